package services

import (
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
)

// Emitter receives progress events from a coordinator run. Implementations
// must not block; the coordinator calls it inline on every state transition.
type Emitter func(models.ProgressEvent)

// NopEmitter discards all events.
func NopEmitter(models.ProgressEvent) {}

// ChannelEmitter returns an emitter that sends to ch, dropping events when
// the channel is full. A slow or absent consumer never stalls the pipeline.
func ChannelEmitter(ch chan<- models.ProgressEvent) Emitter {
	return func(ev models.ProgressEvent) {
		select {
		case ch <- ev:
		default:
		}
	}
}
