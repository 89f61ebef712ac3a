package kramerius

import (
	"context"
	"net/http"
	"slices"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// Service holds one Client per configured instance.
type Service struct {
	clients map[string]*Client
}

// NewService builds clients for every configured instance. All instances share
// the service-account token source.
func NewService(cfg config.KrameriusConfig, log logger.Logger) *Service {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	tokens := TokenSource(StaticToken(""))
	if cfg.Auth.TokenURL != "" {
		tokens = NewPasswordTokenSource(cfg.Auth, httpClient)
	}

	clients := make(map[string]*Client, len(cfg.Instances))
	for id, inst := range cfg.Instances {
		clients[id] = NewClient(id, inst.TrimmedURL(), tokens,
			WithHTTPClient(httpClient),
			WithAdminURL(inst.AdminURL),
			WithRateLimit(cfg.RateLimit),
			WithLogger(log.With(logger.String("instance", id))),
		)
	}
	return &Service{clients: clients}
}

// NewServiceFromClients is used when clients are built by hand.
func NewServiceFromClients(clients ...*Client) *Service {
	s := &Service{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		s.clients[c.Instance()] = c
	}
	return s
}

// Client returns the client of instance, or a validation error when the
// instance is not configured.
func (s *Service) Client(instance string) (*Client, error) {
	if instance == "" {
		return nil, domain.Validationf("instance must be provided")
	}
	c, ok := s.clients[instance]
	if !ok {
		return nil, domain.Validationf("kramerius instance %q is not configured", instance)
	}
	return c, nil
}

// Instances lists the configured instance ids in sorted order.
func (s *Service) Instances() []string {
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ObjectMetadata returns metadata of pid from instance.
func (s *Service) ObjectMetadata(ctx context.Context, instance, pid string) (*ObjectMetadata, error) {
	c, err := s.Client(instance)
	if err != nil {
		return nil, err
	}
	return c.ObjectMetadata(ctx, pid)
}

// Children returns the direct children of pid on instance.
func (s *Service) Children(ctx context.Context, instance, pid string) ([]ObjectMetadata, error) {
	c, err := s.Client(instance)
	if err != nil {
		return nil, err
	}
	return c.Children(ctx, pid)
}

// Image downloads the page image of pid from instance.
func (s *Service) Image(ctx context.Context, instance, pid string) ([]byte, error) {
	c, err := s.Client(instance)
	if err != nil {
		return nil, err
	}
	return c.Image(ctx, pid)
}

// Alto downloads the ALTO datastream of pid from instance.
func (s *Service) Alto(ctx context.Context, instance, pid string) ([]byte, error) {
	c, err := s.Client(instance)
	if err != nil {
		return nil, err
	}
	return c.Alto(ctx, pid)
}

// UploadAltoOcr publishes ALTO and OCR of pid to instance.
func (s *Service) UploadAltoOcr(ctx context.Context, instance, pid string, alto, ocr []byte) (*UploadHandle, error) {
	c, err := s.Client(instance)
	if err != nil {
		return nil, err
	}
	return c.UploadAltoOcr(ctx, pid, alto, ocr)
}
