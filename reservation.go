package rewriter

import "sync"

// Reservations counts calls routed to a credential whose outcome has not
// been recorded yet. The ledger and the minute window only learn about a
// call once it returns; until then the reservation holds its slot.
//
// Reservations are in-process. Rewriters sharing a store across processes
// still see each other's completed calls only.
type Reservations struct {
	mu       sync.Mutex
	inflight map[Credential]int
}

// NewReservations creates an empty reservation table.
func NewReservations() *Reservations {
	return &Reservations{inflight: make(map[Credential]int)}
}

// InFlight returns the number of outstanding reservations for credential.
func (r *Reservations) InFlight(credential Credential) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[credential]
}

// Release drops one reservation for credential.
func (r *Reservations) Release(credential Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight[credential] <= 1 {
		delete(r.inflight, credential)
		return
	}
	r.inflight[credential]--
}

// reserve must be called with mu held.
func (r *Reservations) reserve(credential Credential) {
	r.inflight[credential]++
}
