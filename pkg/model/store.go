package model

const (
	// DefaultMaxClips bounds the shared history.
	DefaultMaxClips = 100

	// DedupWindow is the number of most recent clips checked for identical
	// text before a new clip is accepted.
	DedupWindow = 5
)

// AddOutcome describes what happened to an add request.
type AddOutcome int

const (
	// OutcomeAdded means the clip was prepended to the store.
	OutcomeAdded AddOutcome = iota
	// OutcomeEmpty means the text was empty after trimming.
	OutcomeEmpty
	// OutcomeDuplicateSuppressed means the text matched a clip inside the
	// dedup window. It is a deliberate no-op, not an error.
	OutcomeDuplicateSuppressed
)

// String returns the outcome name.
func (o AddOutcome) String() string {
	switch o {
	case OutcomeAdded:
		return "added"
	case OutcomeEmpty:
		return "empty"
	case OutcomeDuplicateSuppressed:
		return "duplicate_suppressed"
	default:
		return "unknown"
	}
}

// AddResult is returned by Store.Add.
type AddResult struct {
	Outcome AddOutcome
	Clip    Clip
	// Evicted counts clips dropped from the tail to stay within capacity.
	Evicted int
}

// Store is a bounded, newest-first clip history.
//
// Store is not safe for concurrent use; Model serializes access.
type Store struct {
	clips    []Clip
	maxClips int
	window   int
}

// NewStore creates a store holding at most maxClips entries that suppresses
// duplicates within the given window. Non-positive arguments select defaults.
func NewStore(maxClips, window int) *Store {
	if maxClips <= 0 {
		maxClips = DefaultMaxClips
	}
	if window <= 0 {
		window = DedupWindow
	}
	return &Store{
		clips:    make([]Clip, 0, maxClips),
		maxClips: maxClips,
		window:   window,
	}
}

// Add prepends a clip unless its text is empty or duplicated within the
// window. The caller supplies a fully populated clip; Add normalizes its text.
func (s *Store) Add(c Clip) AddResult {
	c.Text = NormalizeText(c.Text)
	if c.Text == "" {
		return AddResult{Outcome: OutcomeEmpty}
	}
	if s.inWindow(c.Text) {
		return AddResult{Outcome: OutcomeDuplicateSuppressed}
	}

	s.clips = append(s.clips, Clip{})
	copy(s.clips[1:], s.clips)
	s.clips[0] = c

	evicted := 0
	if len(s.clips) > s.maxClips {
		evicted = len(s.clips) - s.maxClips
		s.clips = s.clips[:s.maxClips]
	}

	return AddResult{Outcome: OutcomeAdded, Clip: c, Evicted: evicted}
}

func (s *Store) inWindow(text string) bool {
	n := s.window
	if n > len(s.clips) {
		n = len(s.clips)
	}
	for i := 0; i < n; i++ {
		if s.clips[i].Text == text {
			return true
		}
	}
	return false
}

// Remove deletes the clip with the given id.
func (s *Store) Remove(id string) (Clip, bool) {
	for i, c := range s.clips {
		if c.ID == id {
			s.clips = append(s.clips[:i], s.clips[i+1:]...)
			return c, true
		}
	}
	return Clip{}, false
}

// Clear empties the store and returns how many clips were removed.
func (s *Store) Clear() int {
	n := len(s.clips)
	s.clips = s.clips[:0]
	return n
}

// Len returns the number of stored clips.
func (s *Store) Len() int { return len(s.clips) }

// MaxClips returns the capacity.
func (s *Store) MaxClips() int { return s.maxClips }

// Head returns the newest clip.
func (s *Store) Head() (Clip, bool) {
	if len(s.clips) == 0 {
		return Clip{}, false
	}
	return s.clips[0], true
}

// List returns a copy of the clips, newest first.
func (s *Store) List() []Clip {
	out := make([]Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// Recent returns a copy of at most n newest clips.
func (s *Store) Recent(n int) []Clip {
	if n > len(s.clips) || n < 0 {
		n = len(s.clips)
	}
	out := make([]Clip, n)
	copy(out, s.clips[:n])
	return out
}

// replace swaps in a restored history, keeping the capacity bound.
func (s *Store) replace(clips []Clip) {
	if len(clips) > s.maxClips {
		clips = clips[:s.maxClips]
	}
	s.clips = append(s.clips[:0], clips...)
}
