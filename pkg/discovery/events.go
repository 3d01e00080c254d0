package discovery

import (
	"context"
	"errors"
	"strings"

	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/common/models"
	"github.com/synaptica-ai/curator/pkg/mapping"
)

// EventHandler registers attribute combinations reported on the upstream
// topic. Its Handle method fits kafka.EventHandler.
type EventHandler struct {
	registrar Registrar
}

func NewEventHandler(registrar Registrar) *EventHandler {
	return &EventHandler{registrar: registrar}
}

// Handle ignores other event types. Payloads that can never be keyed are
// dropped so the consumer does not redeliver them.
func (h *EventHandler) Handle(ctx context.Context, event models.Event) error {
	if event.Type != models.EventAttributeDetected {
		return nil
	}
	attr, ok := models.SourceAttributeFromEvent(event)
	if !ok {
		logger.Log.WithField("event_id", event.ID).Warn("Dropping attribute event without type or values")
		return nil
	}
	if attr.Values[mapping.LabelDataSource] == "" {
		attr.Values[mapping.LabelDataSource] = attr.Provider
	}

	for _, values := range expand(attr) {
		_, created, err := h.registrar.RegisterUnmapped(ctx, attr.Type, values)
		if err != nil {
			if errors.Is(err, mapping.ErrUnknownType) || errors.Is(err, mapping.ErrIncompleteIdentity) {
				logger.Log.WithError(err).WithField("event_id", event.ID).Warn("Dropping attribute event")
				return nil
			}
			return err
		}
		if created {
			logger.Log.WithFields(map[string]interface{}{
				"event_id":    event.ID,
				"entity_type": attr.Type,
			}).Debug("Attribute event registered a new unmapped record")
		}
	}
	return nil
}

// expand splits combination treatments the same way template rows are.
func expand(attr models.SourceAttribute) []map[string]string {
	if !strings.EqualFold(attr.Type, string(mapping.TypeTreatment)) {
		return []map[string]string{attr.Values}
	}
	drugs := splitTreatment(attr.Values[mapping.LabelTreatmentName])
	if len(drugs) <= 1 {
		return []map[string]string{attr.Values}
	}
	out := make([]map[string]string, 0, len(drugs))
	for _, drug := range drugs {
		values := make(map[string]string, len(attr.Values))
		for k, v := range attr.Values {
			values[k] = v
		}
		values[mapping.LabelTreatmentName] = drug
		out = append(out, values)
	}
	return out
}
