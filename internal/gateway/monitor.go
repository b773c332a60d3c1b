package gateway

import (
	"strings"

	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/recovery"
	"github.com/portside-dev/portside/internal/services"
)

// MonitorHandler serves monitor_ subscriptions. Subscribed clients receive
// assistant events verbatim: the envelope type is the event kind.
type MonitorHandler struct {
	monitor *services.MonitorService
}

func NewMonitorHandler(monitor *services.MonitorService) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

func (h *MonitorHandler) Owns(msgType string) bool {
	return strings.HasPrefix(msgType, "monitor_")
}

func (h *MonitorHandler) Handle(client *Client, env models.Envelope) {
	switch env.Type {
	case models.TypeMonitorSubscribe:
		ch := h.monitor.Subscribe(client.ID)
		recovery.SafeGo("monitor-pump/"+client.ID, func() {
			// The channel closes on unsubscribe, resubscribe or monitor
			// stop, ending the pump.
			for ev := range ch {
				client.Send(models.NewEnvelope(ev.Kind, ev))
			}
		})
		client.Send(models.NewEnvelope(models.TypeMonitorSubscribeResponse,
			models.MonitorSubscribeResponse{Success: true, Subscribed: true}))

	case models.TypeMonitorUnsubscribe:
		h.monitor.Unsubscribe(client.ID)
		client.Send(models.NewEnvelope(models.TypeMonitorUnsubscribeResponse,
			models.MonitorSubscribeResponse{Success: true, Subscribed: false}))
	}
}

func (h *MonitorHandler) Cleanup(clientID string) {
	h.monitor.Unsubscribe(clientID)
}
