package inspector

import (
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/ridecheck/internal/protocol"
)

// send delivers msg to the browser writer. State changes wait briefly for a
// slow writer; high-rate telemetry is dropped instead.
func (c *conn) send(msg any) {
	msgType, critical := outboundMeta(msg)
	metrics := c.o.cfg.Metrics
	if !critical {
		select {
		case c.outbound <- msg:
			metrics.WSMessage("outbound", msgType)
		default:
			metrics.SessionEvent("outbound_drop")
		}
		return
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case c.outbound <- msg:
		metrics.WSMessage("outbound", msgType)
	case <-timer.C:
		c.log.Warn("outbound message dropped", zap.String("type", msgType))
		metrics.SessionEvent("outbound_timeout_critical")
	}
}

func (c *conn) sendError(code, source string, retryable bool, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sess.ID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

func outboundMeta(msg any) (string, bool) {
	switch m := msg.(type) {
	case protocol.Speaking:
		return string(m.Type), true
	case protocol.AudioLevel:
		return string(m.Type), false
	case protocol.AssistantTextDelta:
		return string(m.Type), false
	case protocol.Status:
		return string(m.Type), true
	case protocol.InspectionStep:
		return string(m.Type), true
	case protocol.InspectionComplete:
		return string(m.Type), true
	case protocol.Transcription:
		return string(m.Type), true
	case protocol.MediaCaptured:
		return string(m.Type), true
	case protocol.Finalize:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	default:
		return "unknown", true
	}
}
