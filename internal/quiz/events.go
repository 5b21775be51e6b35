package quiz

// Event is an input to Session.Dispatch.
type Event interface{ event() }

type (
	// Start asks for a new quiz. It replaces any quiz in progress.
	Start struct{ Request StartRequest }
	// Generated delivers the questions produced for an attempt.
	Generated struct {
		Attempt   string
		Questions []Question
	}
	// GenerationFailed reports that the attempt could not be generated.
	GenerationFailed struct {
		Attempt string
		Err     error
	}
	// Navigate moves one question forward (Delta > 0) or back (Delta < 0).
	Navigate struct{ Delta int }
	// Jump moves to an arbitrary question, as from the status strip.
	Jump struct{ Index int }
	// Select records an answer for the current question. Option wins over
	// Index when both are set.
	Select struct {
		Option string
		Index  int
	}
	Submit          struct{}
	Tick            struct{}
	DismissScore    struct{}
	Restart         struct{}
	NoticeExpired   struct{ ID uint64 }
	NarrationFailed struct{ Err error }
)

func (Start) event()            {}
func (Generated) event()        {}
func (GenerationFailed) event() {}
func (Navigate) event()         {}
func (Jump) event()             {}
func (Select) event()           {}
func (Submit) event()           {}
func (Tick) event()             {}
func (DismissScore) event()     {}
func (Restart) event()          {}
func (NoticeExpired) event()    {}
func (NarrationFailed) event()  {}

// Effect is a side effect the owner of a Session must perform, in order,
// after a successful Dispatch.
type Effect interface{ effect() }

type (
	StopNarration struct{}
	StartTimer    struct{}
	StopTimer     struct{}
	// Generate requests questions for a pending attempt.
	Generate struct {
		Attempt string
		Request StartRequest
	}
	// Notify publishes a transient notice that should expire after the
	// configured TTL.
	Notify struct{ Notice Notice }
	// Submitted reports the scored result of an attempt.
	Submitted struct {
		Attempt string
		Result  Result
	}
	// Answered reports a newly recorded or replaced answer.
	Answered struct {
		Attempt string
		Index   int
		Option  string
	}
	// Loaded reports that an attempt entered answering mode.
	Loaded struct {
		Attempt   string
		Questions int
	}
	// Finished reports that an attempt left the session.
	Finished struct {
		Attempt string
		Reason  string
	}
)

func (StopNarration) effect() {}
func (StartTimer) effect()    {}
func (StopTimer) effect()     {}
func (Generate) effect()      {}
func (Notify) effect()        {}
func (Submitted) effect()     {}
func (Answered) effect()      {}
func (Loaded) effect()        {}
func (Finished) effect()      {}

// Notice is a transient user-facing message.
type Notice struct {
	ID      uint64 `json:"id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}
