package council

import "github.com/nomadeum/nomadeum/internal/domain"

// Observer receives progress of a turn while it runs. Methods may be
// called from the fan-out goroutines and must be safe for concurrent use.
type Observer interface {
	ProviderAnswered(source domain.Source)
	MessageRecorded(msg domain.Message)
}

type noopObserver struct{}

func (noopObserver) ProviderAnswered(domain.Source) {}
func (noopObserver) MessageRecorded(domain.Message) {}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnProvider func(domain.Source)
	OnMessage  func(domain.Message)
}

// ProviderAnswered implements Observer.
func (f ObserverFuncs) ProviderAnswered(s domain.Source) {
	if f.OnProvider != nil {
		f.OnProvider(s)
	}
}

// MessageRecorded implements Observer.
func (f ObserverFuncs) MessageRecorded(m domain.Message) {
	if f.OnMessage != nil {
		f.OnMessage(m)
	}
}
