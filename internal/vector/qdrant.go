// Package vector implements similarity search against a Qdrant collection.
package vector

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	qd "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/resilience"
	"github.com/a-marczewski/ragline/internal/version"
)

// Index searches one Qdrant collection of document fragments.
type Index struct {
	client     *qd.Client
	collection string
	logger     *zap.Logger
}

// NewIndex connects to Qdrant at rawURL (host:port or a URL) and binds to the
// given collection.
func NewIndex(rawURL, apiKey, collection string, logger *zap.Logger) (*Index, error) {
	host, port, err := parseEndpoint(rawURL)
	if err != nil {
		return nil, fmt.Errorf("qdrant url %q: %w", rawURL, err)
	}

	client, err := qd.NewClient(&qd.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithUserAgent("ragline/" + version.Version),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	return &Index{client: client, collection: collection, logger: logger}, nil
}

// parseEndpoint accepts "host:port", "host", or a full URL.
func parseEndpoint(raw string) (string, int, error) {
	if raw == "" {
		return "", 0, fmt.Errorf("empty endpoint")
	}

	candidate := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		candidate = u.Host
	}

	host, portStr, err := net.SplitHostPort(candidate)
	if err != nil {
		return candidate, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q", portStr)
	}
	return host, port, nil
}

// Search runs similarity search and returns hits at or above threshold.
// Filters become exact-match payload conditions.
func (i *Index) Search(ctx context.Context, vector []float32, k int, threshold float64, filters map[string]string) ([]deps.SearchHit, error) {
	limit := uint64(k)
	scoreThreshold := float32(threshold)

	query := &qd.QueryPoints{
		CollectionName: i.collection,
		Query:          qd.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qd.NewWithPayload(true),
	}
	if threshold > 0 {
		query.ScoreThreshold = &scoreThreshold
	}
	if len(filters) > 0 {
		conditions := make([]*qd.Condition, 0, len(filters))
		for field, value := range filters {
			conditions = append(conditions, qd.NewMatch(field, value))
		}
		query.Filter = &qd.Filter{Must: conditions}
	}

	points, err := i.client.Query(ctx, query)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("qdrant query: %w", err))
	}

	hits := make([]deps.SearchHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, pointToHit(p))
	}

	if i.logger != nil {
		i.logger.Debug("vector search complete",
			zap.Int("requested", k),
			zap.Int("returned", len(hits)),
			zap.Float64("threshold", threshold),
		)
	}
	return hits, nil
}

func pointToHit(p *qd.ScoredPoint) deps.SearchHit {
	hit := deps.SearchHit{
		ID:    p.Id.String(),
		Score: float64(p.Score),
	}

	if len(p.Payload) > 0 {
		hit.Metadata = make(map[string]any, len(p.Payload))
		for key, value := range p.Payload {
			switch key {
			case "text":
				hit.Text = value.GetStringValue()
			case "source":
				hit.Source = value.GetStringValue()
			default:
				hit.Metadata[key] = payloadValue(value)
			}
		}
	}
	return hit
}

func payloadValue(v *qd.Value) any {
	switch kind := v.GetKind().(type) {
	case *qd.Value_StringValue:
		return kind.StringValue
	case *qd.Value_IntegerValue:
		return kind.IntegerValue
	case *qd.Value_DoubleValue:
		return kind.DoubleValue
	case *qd.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}

// Count returns the number of points in the collection.
func (i *Index) Count(ctx context.Context) (uint64, error) {
	n, err := i.client.Count(ctx, &qd.CountPoints{CollectionName: i.collection})
	if err != nil {
		return 0, resilience.Transient(fmt.Errorf("qdrant count: %w", err))
	}
	return n, nil
}

// HealthCheck probes the Qdrant instance.
func (i *Index) HealthCheck(ctx context.Context) error {
	if _, err := i.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (i *Index) Close() error {
	return i.client.Close()
}
