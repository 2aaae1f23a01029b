package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"promobot/internal/flow"
)

// envelope mirrors the slice of the provider webhook payload this
// system consumes. Everything else in the envelope is ignored.
type envelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type      string `json:"type"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// handleVerify answers the provider's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.cfg.VerifyToken && s.cfg.VerifyToken != "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// handleWebhook consumes one inbound event. Malformed payloads are
// acknowledged as ignored so the provider does not redeliver junk; a
// store or queue failure returns 500 so the provider's redelivery
// retries the event (admission idempotence makes that safe).
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.log.Debug().Err(err).Msg("unparsable webhook payload ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ev, ok := eventFromEnvelope(env)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := s.dispatcher.Process(r.Context(), ev); err != nil {
		s.log.Error().Err(err).Str("sender", ev.Sender).Msg("event processing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func eventFromEnvelope(env envelope) (flow.Event, bool) {
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if strings.TrimSpace(msg.From) == "" {
					continue
				}
				return eventFromMessage(msg), true
			}
		}
	}
	return flow.Event{}, false
}

func eventFromMessage(msg inboundMessage) flow.Event {
	ev := flow.Event{Sender: msg.From, Kind: flow.EventOther}
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			ev.Kind = flow.EventText
			ev.Text = msg.Text.Body
		}
	case "interactive":
		if msg.Interactive != nil && msg.Interactive.ListReply != nil {
			ev.Kind = flow.EventInteractive
			ev.SelectionID = msg.Interactive.ListReply.ID
		}
	}
	return ev
}
