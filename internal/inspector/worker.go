package inspector

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/ridecheck/internal/audio"
	"github.com/ent0n29/ridecheck/internal/inspection"
	"github.com/ent0n29/ridecheck/internal/media"
	"github.com/ent0n29/ridecheck/internal/observability"
	"github.com/ent0n29/ridecheck/internal/protocol"
	"github.com/ent0n29/ridecheck/internal/storage"
	"github.com/ent0n29/ridecheck/internal/transcripts"
)

// transcriptionWorker handles completed model turns strictly in order, so
// capture labels and finalization follow the conversation.
func (c *conn) transcriptionWorker() {
	for t := range c.turns {
		if c.ctx.Err() != nil {
			continue
		}
		c.processTurn(t)
	}
}

func (c *conn) processTurn(t pendingTurn) {
	metrics := c.o.cfg.Metrics
	wav, err := audio.EncodeWAV(t.turn.Fragments, audio.ParseFormat(t.turn.MimeType))
	if err != nil {
		c.log.Warn("encode turn audio failed", zap.String("turn_id", t.id), zap.Error(err))
		c.sendError("turn_audio_invalid", "transcribe", false, err)
		return
	}

	start := time.Now()
	text, err := c.o.cfg.Transcriber.Transcribe(c.ctx, wav, "audio/wav")
	metrics.ObserveTranscription(time.Since(start))
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("transcription failed", zap.String("turn_id", t.id), zap.Error(err))
		metrics.ProviderError(c.o.cfg.Transcriber.Name(), "transcribe")
		c.sendError("transcription_failed", "transcribe", true, err)
		return
	}

	c.saveTranscript(transcripts.RoleModel, text)

	cls := c.o.cfg.Classifier.Classify(text)
	switch cls.Kind {
	case inspection.KindComplete:
		c.finalize("inspection_completed")
	case inspection.KindCapture:
		c.capture(t)
	case inspection.KindAssertView:
		for _, view := range cls.Views {
			if err := c.client.SendClientEvent("user_asserts_view", view); err != nil {
				c.log.Debug("view assertion not delivered", zap.Error(err))
			}
		}
	}

	c.send(protocol.Transcription{
		Type:      protocol.TypeTranscription,
		SessionID: c.sess.ID,
		TurnID:    t.id,
		Text:      text,
		Kind:      cls.Kind.String(),
	})
}

// capture uploads the last camera frame under the next unused label. The
// cursor only advances once the upload succeeded.
func (c *conn) capture(t pendingTurn) {
	metrics := c.o.cfg.Metrics
	label, ok := c.cursor.Peek()
	if !ok {
		c.cursor.Advance()
		metrics.ObserveIndicator("capture_overrun")
		return
	}
	img, ok := c.client.LastImage()
	if !ok {
		c.sendError("no_image", "capture", true, fmt.Errorf("no camera frame to capture for %s", label))
		return
	}
	body, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		c.sendError("invalid_image", "capture", false, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, uploadTimeout)
	defer cancel()
	start := time.Now()
	url, err := c.o.cfg.Media.Put(ctx, storage.Object{
		Key:         storage.ImageKey(c.sess.VehicleID, label, media.MimeJPEG),
		Body:        body,
		ContentType: media.MimeJPEG,
	})
	metrics.Upload("image", err)
	metrics.ObserveStage(observability.StageUpload, time.Since(start))
	if err != nil {
		c.log.Warn("image upload failed", zap.String("label", label), zap.Error(err))
		c.sendError("upload_failed", "storage", true, err)
		return
	}

	c.cursor.Advance()
	metrics.Capture(label)
	metrics.ObserveStage(observability.StageTurnToCapture, time.Since(t.ended))
	_ = c.o.cfg.Sessions.RecordCapture(c.sess.ID, label)
	c.log.Info("captured image", zap.String("label", label), zap.String("url", url))
	c.send(protocol.MediaCaptured{
		Type:      protocol.TypeMediaCaptured,
		SessionID: c.sess.ID,
		Label:     label,
		URL:       url,
		Position:  c.cursor.Position(),
		Total:     c.cursor.Len(),
	})
}

// finalize ends the upstream session and tells the page to stop recording,
// upload the walkaround video and move on.
func (c *conn) finalize(reason string) {
	c.finalizeOnce.Do(func() {
		c.queue.Stop()
		c.client.Disconnect()
		_ = c.o.cfg.Sessions.MarkCompleted(c.sess.ID)
		c.o.cfg.Metrics.SessionEvent("finalized")
		c.send(protocol.Finalize{
			Type:       protocol.TypeFinalize,
			SessionID:  c.sess.ID,
			VehicleID:  c.sess.VehicleID,
			Reason:     reason,
			RedirectTo: fmt.Sprintf(c.o.cfg.RedirectPath, c.sess.VehicleID),
		})
	})
}

func (c *conn) saveTranscript(role, text string) {
	if c.o.cfg.Transcripts == nil || strings.TrimSpace(text) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
	defer cancel()
	record := transcripts.NewRecord(c.sess.VehicleID, c.sess.ID, role, text)
	if err := c.o.cfg.Transcripts.Save(ctx, record); err != nil {
		c.log.Warn("save transcript failed", zap.Error(err))
		c.o.cfg.Metrics.SessionEvent("transcript_save_failed")
	}
}
