package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/pkg/models"
)

// StaticStore keeps nothing and derives URLs from a public base URL.
type StaticStore struct {
	baseURL string
}

var _ Store = (*StaticStore)(nil)

func NewStaticStore(baseURL string) *StaticStore {
	return &StaticStore{baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *StaticStore) PutModel(_ context.Context, jobID uuid.UUID, _ models.JobResult) (Artifact, error) {
	return Artifact{
		DownloadURL: fmt.Sprintf("%s/models/%s/download", s.baseURL, jobID),
		APIEndpoint: apiEndpoint(s.baseURL, jobID),
	}, nil
}

func (s *StaticStore) Ping(context.Context) error { return nil }
