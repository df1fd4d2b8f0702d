package destinations

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/docflow-systems/docflow-stack/common/models"
)

// ArchiveConfig holds OpenSearch connection settings for the document archive.
type ArchiveConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	Index         string
}

// DefaultArchiveConfig returns sensible defaults for a local archive.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		URL:           "https://localhost:9200",
		Username:      "admin",
		Password:      "admin",
		TLSSkipVerify: true,
		Index:         "docflow-archive",
	}
}

// Archive indexes classified documents into OpenSearch. Documents are
// indexed under their document ID, so a redelivered message overwrites
// its own record instead of duplicating it.
type Archive struct {
	osClient *opensearch.Client
	index    string
}

// NewArchive creates the archive destination.
func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create opensearch client: %w", err)
	}

	index := cfg.Index
	if index == "" {
		index = "docflow-archive"
	}

	return &Archive{
		osClient: client,
		index:    index,
	}, nil
}

func (a *Archive) Name() string {
	return "archive"
}

// Ping verifies the archive is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	res, err := a.osClient.Info(a.osClient.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("archive: connect: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("archive: opensearch returned %s", res.Status())
	}
	return nil
}

func (a *Archive) Deliver(ctx context.Context, doc *models.ClassifyEnvelope) error {
	record := map[string]interface{}{
		"document_id": doc.DocumentID,
		"filename":    doc.Filename,
		"doc_type":    doc.DocType,
		"confidence":  doc.Confidence,
		"summary":     doc.Summary,
		"entities":    doc.Entities,
		"sender":      doc.Sender,
		"is_vip":      doc.IsVIP,
		"archived_at": time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      a.index,
		DocumentID: doc.DocumentID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, a.osClient)
	if err != nil {
		return fmt.Errorf("archive: index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(res.Body)
		return fmt.Errorf("archive: index failed: %s - %s", res.Status(), string(detail))
	}

	return nil
}
