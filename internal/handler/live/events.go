package live

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/pkg/utils"
)

// handleEvents is a read-only alternative to the socket for views that
// issue commands over plain HTTP.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, unsubscribe := h.subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, "snapshot", h.ctrl.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed", zap.String("remote", r.RemoteAddr))
			return
		case snapshot := <-updates:
			if err := utils.SendSSEEvent(w, flusher, "snapshot", snapshot); err != nil {
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}
