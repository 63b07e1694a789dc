package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cachemq/cachemq/internal/messagestore"
	"github.com/cachemq/cachemq/internal/pubsub"
)

// attachAPI registers the JSON surface clients use to publish, subscribe,
// acknowledge and poll. It stands in for the cache's client channel.
func attachAPI(mux *http.ServeMux, store *messagestore.TopicStore, mgr *pubsub.Manager) {
	mux.HandleFunc("POST /topics/{topic}/messages", handlePublish(store))
	mux.HandleFunc("POST /topics/{topic}/subscriptions", handleSubscribe(store))
	mux.HandleFunc("POST /topics/{topic}/unsubscribe", handleUnsubscribe(store))
	mux.HandleFunc("POST /topics/{topic}/ack", handleAck(store))
	mux.HandleFunc("GET /clients/{client}/messages", handlePoll(store))
	mux.HandleFunc("POST /admin/evict", handleEvict(mgr))
}

type publishRequest struct {
	ClientID string          `json:"client_id"`
	Data     json.RawMessage `json:"data"`
	Delivery string          `json:"delivery"`
	TTLs     int             `json:"ttl_s"`
}

func handlePublish(store *messagestore.TopicStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req publishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Data) == 0 {
			http.Error(w, "invalid JSON; expected {\"client_id\":..., \"data\":...}", http.StatusBadRequest)
			return
		}

		opt := pubsub.DeliverAny
		if req.Delivery == "all" {
			opt = pubsub.DeliverAll
		}

		msg, err := store.Publish(r.PathValue("topic"), req.ClientID, req.Data, opt, time.Duration(req.TTLs)*time.Second)
		if err != nil {
			slog.Error("failed to publish message", "topic", r.PathValue("topic"), "error", err)
			http.Error(w, "failed to publish", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{"topic": msg.Topic, "message_id": msg.ID})
	}
}

type subscribeRequest struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role"`
}

func subscriptionFromRequest(r *http.Request) (pubsub.SubscriptionInfo, error) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return pubsub.SubscriptionInfo{}, err
	}
	if req.ClientID == "" {
		return pubsub.SubscriptionInfo{}, errors.New("client_id is required")
	}

	sub := pubsub.SubscriptionInfo{ClientID: req.ClientID}
	switch req.Role {
	case "publisher":
		sub.Role = pubsub.RolePublisher
	case "subscriber":
		sub.Role = pubsub.RoleSubscriber
	case "":
		// unsubscribes may omit the role to drop all of the client's roles
	default:
		return pubsub.SubscriptionInfo{}, errors.New("role must be publisher or subscriber")
	}

	return sub, nil
}

func handleSubscribe(store *messagestore.TopicStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := subscriptionFromRequest(r)
		if err != nil || sub.Role == 0 {
			http.Error(w, "invalid subscription request", http.StatusBadRequest)
			return
		}

		op := pubsub.TopicOp{Kind: pubsub.OpSubscribe, Topic: r.PathValue("topic"), Sub: sub}
		if err := store.TopicOperation(op); err != nil {
			http.Error(w, "failed to subscribe", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{"status": "subscribed"})
	}
}

func handleUnsubscribe(store *messagestore.TopicStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := subscriptionFromRequest(r)
		if err != nil {
			http.Error(w, "invalid unsubscribe request", http.StatusBadRequest)
			return
		}

		op := pubsub.TopicOp{Kind: pubsub.OpUnsubscribe, Topic: r.PathValue("topic"), Sub: sub}
		if err := store.TopicOperation(op); err != nil {
			if errors.Is(err, messagestore.ErrUnknownTopic) {
				http.Error(w, "unknown topic", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to unsubscribe", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{"status": "unsubscribed"})
	}
}

type ackRequest struct {
	ClientID  string `json:"client_id"`
	MessageID string `json:"message_id"`
}

func handleAck(store *messagestore.TopicStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" || req.MessageID == "" {
			http.Error(w, "invalid ack request", http.StatusBadRequest)
			return
		}

		err := store.Acknowledge(r.PathValue("topic"), req.MessageID, req.ClientID)
		switch {
		case errors.Is(err, messagestore.ErrUnknownTopic), errors.Is(err, messagestore.ErrUnknownMessage):
			http.Error(w, "unknown message", http.StatusNotFound)
		case errors.Is(err, messagestore.ErrNotAssigned):
			http.Error(w, "message is not assigned to this client", http.StatusConflict)
		case err != nil:
			http.Error(w, "failed to acknowledge", http.StatusInternalServerError)
		default:
			writeJSON(w, map[string]any{"status": "acknowledged"})
		}
	}
}

type polledMessage struct {
	Topic     string          `json:"topic"`
	MessageID string          `json:"message_id"`
	Data      json.RawMessage `json:"data"`
}

func handlePoll(store *messagestore.TopicStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("client")

		deliveries := store.PendingDeliveries(clientID)

		out := make([]polledMessage, 0, len(deliveries))
		for _, d := range deliveries {
			store.RecordActivity(d.Message.Topic, clientID)
			out = append(out, polledMessage{
				Topic:     d.Message.Topic,
				MessageID: d.Message.ID,
				Data:      d.Data,
			})
		}

		writeJSON(w, out)
	}
}

func handleEvict(mgr *pubsub.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Bytes int64 `json:"bytes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bytes <= 0 {
			http.Error(w, "invalid evict request", http.StatusBadRequest)
			return
		}

		if err := mgr.Evict(req.Bytes); err != nil {
			http.Error(w, "failed to evict", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{"status": "evicted"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
