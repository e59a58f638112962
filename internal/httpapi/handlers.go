package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/twilio"
	"go.uber.org/zap"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.GetStatus(r.Context(), &api.GetStatusRequest{})
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// verifyWebhook parses the form and checks Twilio's signature when an auth
// token is configured.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return false
	}
	if s.opts.TwilioAuthToken == "" {
		return true
	}
	u := s.opts.PublicURL + r.URL.RequestURI()
	if !twilio.ValidSignature(s.opts.TwilioAuthToken, u, r.PostForm, r.Header.Get(twilio.SignatureHeader)) {
		s.logger.Warn("rejected webhook with bad signature", zap.String("path", r.URL.Path))
		writeError(w, http.StatusForbidden, "invalid signature")
		return false
	}
	return true
}

func (s *Server) incomingMessage(w http.ResponseWriter, r *http.Request) {
	if !s.verifyWebhook(w, r) {
		return
	}
	msg, err := twilio.ParseIncoming(r.PostForm, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.bus.Emit(bus.KindTwilioMessage, msg)
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(emptyTwiML))
}

func (s *Server) statusCallback(w http.ResponseWriter, r *http.Request) {
	if !s.verifyWebhook(w, r) {
		return
	}
	u, err := twilio.ParseStatus(r.PostForm)
	if err != nil {
		s.logger.Warn("rejected status callback", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.bus.Emit(bus.KindTwilioStatus, u)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadChats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.LoadChats(r.Context(), &api.LoadChatsRequest{ActiveNumber: chi.URLParam(r, "number")})
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadMore(w http.ResponseWriter, r *http.Request) {
	var req api.LoadMoreChatsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.SessionToken = chi.URLParam(r, "token")
	resp, err := s.svc.LoadMoreChats(r.Context(), &req)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listThread(w http.ResponseWriter, r *http.Request) {
	req := api.ListThreadRequest{
		ActiveNumber: chi.URLParam(r, "number"),
		Counterparty: chi.URLParam(r, "counterparty"),
	}
	q := r.URL.Query()
	if v := q.Get("before"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before")
			return
		}
		req.BeforeUnixMs = ms
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}
	resp, err := s.svc.ListThread(r.Context(), &req)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	var req api.MarkReadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.ChatID = chi.URLParam(r, "chatID")
	s.ack(w, r, func() (*api.Ack, error) { return s.svc.MarkRead(r.Context(), &req) })
}

func (s *Server) flagChat(w http.ResponseWriter, r *http.Request) {
	var req api.FlagChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.ChatID = chi.URLParam(r, "chatID")
	s.ack(w, r, func() (*api.Ack, error) { return s.svc.FlagChat(r.Context(), &req) })
}

func (s *Server) claimChat(w http.ResponseWriter, r *http.Request) {
	var req api.ClaimChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.ChatID = chi.URLParam(r, "chatID")
	s.ack(w, r, func() (*api.Ack, error) { return s.svc.ClaimChat(r.Context(), &req) })
}

func (s *Server) labelChat(w http.ResponseWriter, r *http.Request) {
	var req api.LabelChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.ChatID = chi.URLParam(r, "chatID")
	s.ack(w, r, func() (*api.Ack, error) { return s.svc.LabelChat(r.Context(), &req) })
}

func (s *Server) ack(w http.ResponseWriter, _ *http.Request, call func() (*api.Ack, error)) {
	resp, err := call()
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sendText(w http.ResponseWriter, r *http.Request) {
	var req api.SendTextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	resp, err := s.svc.SendText(r.Context(), &req)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := api.SearchMessagesRequest{Query: q.Get("q"), Number: q.Get("number")}
	if v := q.Get("limit"); v != "" {
		req.Limit, _ = strconv.Atoi(v)
	}
	resp, err := s.svc.SearchMessages(r.Context(), &req)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
