package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	redisbus "github.com/tortodelova/backend/internal/clients/redis"
	"github.com/tortodelova/backend/internal/logger"
	"github.com/tortodelova/backend/internal/types"
)

// PredictionNotifier tells a user's connected clients that something about
// their predictions changed. Notifications are best effort; pipeline
// correctness never depends on one being delivered.
type PredictionNotifier interface {
	PredictionSettled(userID uuid.UUID, prediction *types.PredictionRequest)
	PredictionClaimed(userID uuid.UUID, prediction *types.PredictionRequest)
	BalanceChanged(userID uuid.UUID, balance int)
}

type predictionNotifier struct {
	log *logger.Logger
	bus redisbus.EventBus
}

func NewPredictionNotifier(baseLog *logger.Logger, bus redisbus.EventBus) PredictionNotifier {
	return &predictionNotifier{
		log: baseLog.With("service", "PredictionNotifier"),
		bus: bus,
	}
}

func (n *predictionNotifier) publish(event string, userID uuid.UUID, data map[string]any) {
	if n == nil || n.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := n.bus.Publish(ctx, redisbus.Event{
		Channel: userID.String(),
		Event:   event,
		Data:    data,
	})
	if err != nil {
		n.log.Warn("Failed to publish event", "event", event, "user_id", userID, "error", err)
	}
}

func (n *predictionNotifier) PredictionSettled(userID uuid.UUID, prediction *types.PredictionRequest) {
	n.publish(redisbus.EventPredictionSettled, userID, map[string]any{"prediction": prediction})
}

func (n *predictionNotifier) PredictionClaimed(userID uuid.UUID, prediction *types.PredictionRequest) {
	n.publish(redisbus.EventPredictionClaimed, userID, map[string]any{"prediction": prediction})
}

func (n *predictionNotifier) BalanceChanged(userID uuid.UUID, balance int) {
	n.publish(redisbus.EventBalanceChanged, userID, map[string]any{"balance_credits": balance})
}

// NewNoopNotifier keeps the pipeline running when redis is not configured.
func NewNoopNotifier() PredictionNotifier { return noopNotifier{} }

type noopNotifier struct{}

func (noopNotifier) PredictionSettled(uuid.UUID, *types.PredictionRequest) {}
func (noopNotifier) PredictionClaimed(uuid.UUID, *types.PredictionRequest) {}
func (noopNotifier) BalanceChanged(uuid.UUID, int)                         {}
