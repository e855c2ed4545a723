package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leggedarb/internal/engine"
	"leggedarb/internal/recorder"
)

// StatusHandler exposes the running session and the current cycle's position.
// Snapshot is wired by main to whichever cycle runner is live; it returns
// false between cycles.
type StatusHandler struct {
	Asset    string
	Mode     string
	Session  *recorder.Session
	Snapshot func() (engine.StatusView, bool)
}

func (h *StatusHandler) Register(r *gin.Engine) {
	r.GET("/status", h.status)
	r.GET("/status/session", h.session)
}

func (h *StatusHandler) status(c *gin.Context) {
	data := gin.H{
		"asset": h.Asset,
		"mode":  h.Mode,
	}
	if h.Snapshot != nil {
		if view, ok := h.Snapshot(); ok {
			data["cycle"] = view
			data["time_to_expiry"] = view.Expiry.Sub(time.Now().UTC()).String()
		}
	}
	Ok(c, data, nil)
}

func (h *StatusHandler) session(c *gin.Context) {
	if h.Session == nil {
		Error(c, http.StatusServiceUnavailable, "session unavailable", nil)
		return
	}
	st := h.Session.Stats()
	Ok(c, gin.H{
		"session_id":    st.SessionID,
		"uptime":        st.Uptime.String(),
		"cycles":        st.Cycles,
		"locked":        st.Locked,
		"stopped":       st.Stopped,
		"expired":       st.Expired,
		"win_rate":      st.WinRate(),
		"locked_profit": st.LockedProfit,
		"net_pnl":       st.NetPnl,
		"events":        st.EventCounts,
	}, nil)
}
