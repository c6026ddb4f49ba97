package dbus

import (
	"github.com/jmylchreest/perch/internal/provider"
)

var _ provider.Emitter = (*Service)(nil)

// EmitProvider implements provider.Emitter by emitting the ProviderEmit
// signal. Widgets filter on their own id.
func (s *Service) EmitProvider(out provider.Output) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	err := s.conn.Emit(ObjectPath, Interface+".ProviderEmit",
		out.WidgetID, out.Kind, out.ConfigHash, string(out.Payload), out.Err)
	if err != nil {
		s.logger.Warn("failed to emit ProviderEmit signal", "widget", out.WidgetID, "kind", out.Kind, "error", err)
		return
	}
	s.logger.Debug("emitted ProviderEmit signal", "widget", out.WidgetID, "kind", out.Kind)
}
