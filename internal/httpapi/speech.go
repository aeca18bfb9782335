package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/ent0n29/speechbridge/internal/capability"
	"github.com/ent0n29/speechbridge/internal/dispatch"
	"github.com/ent0n29/speechbridge/internal/faults"
)

type textToSpeechRequest struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice"`
	Speed *float64 `json:"speed"`
}

type speechToTextRequest struct {
	Duration *int `json:"duration"`
}

type chatRequest struct {
	Message string   `json:"message"`
	Voice   string   `json:"voice"`
	Speed   *float64 `json:"speed"`
}

// chatFailureResponse reports a reply that was generated but not spoken.
type chatFailureResponse struct {
	errorResponse
	dispatch.ChatPayload
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.dispatcher.Registry().DescribeWithVoices(r.Context()))
}

// handleVoices responds with a bare array of voice names.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	out, err := s.dispatcher.Dispatch(withHTTP(r), capability.OpListVoices, capability.Args{})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out.Payload.(dispatch.VoicesPayload).Voices)
}

func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req textToSpeechRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	s.dispatchAndRespond(w, r, capability.OpTextToSpeech, capability.Args{Text: req.Text, Voice: req.Voice, Speed: req.Speed})
}

func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	var req speechToTextRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	s.dispatchAndRespond(w, r, capability.OpSpeechToText, capability.Args{Duration: req.Duration})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	s.dispatchAndRespond(w, r, capability.OpRespondAndSpeak, capability.Args{Message: req.Message, Voice: req.Voice, Speed: req.Speed})
}

func (s *Server) dispatchAndRespond(w http.ResponseWriter, r *http.Request, op string, args capability.Args) {
	out, err := s.dispatcher.Dispatch(withHTTP(r), op, args)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out.Payload)
}

// decodeRequest accepts an empty body as all-defaults.
func decodeRequest(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, string(faults.KindInvalidArguments), "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func respondFailure(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	status := faults.HTTPStatus(kind)
	body := errorResponse{Error: faults.MessageOf(err), Code: string(kind)}
	if partial, ok := faults.PartialOf(err).(dispatch.ChatPayload); ok {
		respondJSON(w, status, chatFailureResponse{errorResponse: body, ChatPayload: partial})
		return
	}
	respondJSON(w, status, body)
}

func withHTTP(r *http.Request) context.Context {
	return dispatch.WithTransport(r.Context(), dispatch.TransportHTTP)
}
