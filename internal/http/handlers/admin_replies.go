package handlers

import (
	"net/http"

	"github.com/wolfman30/messenger-concierge/internal/reply"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// ReplyPreviewHandler shows operators how a raw assistant response would be
// split and dispatched, without sending anything.
type ReplyPreviewHandler struct {
	decomposer *reply.Decomposer
	logger     *logging.Logger
}

func NewReplyPreviewHandler(decomposer *reply.Decomposer, logger *logging.Logger) *ReplyPreviewHandler {
	if decomposer == nil {
		decomposer = reply.NewDecomposer(nil, nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyPreviewHandler{decomposer: decomposer, logger: logger}
}

type previewRequest struct {
	Response any `json:"response"`
}

// SegmentPreview is the dispatch plan for one text segment.
type SegmentPreview struct {
	Kind               string `json:"kind"`
	Text               string `json:"text,omitempty"`
	Payload            string `json:"payload,omitempty"`
	Main               string `json:"main,omitempty"`
	FollowUp           string `json:"follow_up,omitempty"`
	FollowUpSuppressed bool   `json:"follow_up_suppressed,omitempty"`
}

// PreviewResponse lists the segments in dispatch order.
type PreviewResponse struct {
	Introduce bool             `json:"introduce"`
	Segments  []SegmentPreview `json:"segments"`
}

// Preview normalises {"response": ...} and decomposes every text segment.
func (h *ReplyPreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rep := reply.Normalize(req.Response, h.logger)
	resp := PreviewResponse{Introduce: reply.HasToolInvocation(rep), Segments: []SegmentPreview{}}
	for _, segment := range reply.PlainSegments(rep) {
		d := h.decomposer.Decompose(segment, nil)
		resp.Segments = append(resp.Segments, SegmentPreview{
			Kind:               d.Kind.String(),
			Text:               d.Text,
			Payload:            d.Payload,
			Main:               d.Main,
			FollowUp:           d.FollowUp,
			FollowUpSuppressed: d.FollowUpSuppressed,
		})
		if d.Kind == reply.KindBooking {
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
