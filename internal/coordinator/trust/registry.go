package trust

import "sync"

// verificationRegistry avoids an X509_STORE_CTX-external-data
// back-reference: instead of stashing a raw pointer to the Evaluator
// inside the verification context, each in-flight verification gets a small
// integer token. The per-depth callback looks the token up to reach
// the evaluator; a miss (the evaluator was torn down mid-verify) fails
// safe rather than dereferencing a dangling pointer.
type verificationRegistry struct {
	mu      sync.Mutex
	next    int
	entries map[int]*Evaluator
}

func newVerificationRegistry() *verificationRegistry {
	return &verificationRegistry{entries: make(map[int]*Evaluator)}
}

func (r *verificationRegistry) register(e *Evaluator) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	token := r.next
	r.entries[token] = e
	return token
}

func (r *verificationRegistry) unregister(token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, token)
}

func (r *verificationRegistry) lookup(token int) (*Evaluator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[token]
	return e, ok
}
