package lifecycle

import "github.com/google/uuid"

// Guard is a read-permission token: it records that the bot's data was safe
// to read at the instant of the check. It is not a lock and confers no mutual
// exclusion — holders must still follow the single-mutator tick discipline.
type Guard struct {
	botID uuid.UUID
	state State
}

func (g Guard) BotID() uuid.UUID { return g.botID }

// ObservedState is the state the bot held when the guard was issued.
func (g Guard) ObservedState() State { return g.state }

// TryCreateGuard issues a guard iff the bot is READY or ACTIVE right now.
func (m *Manager) TryCreateGuard() (Guard, bool) {
	st := m.State()
	if !st.DataSafe() {
		return Guard{}, false
	}
	return Guard{botID: m.botID, state: st}, true
}
