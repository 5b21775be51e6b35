package quiz

import "fmt"

var optionLetters = [OptionCount]string{"A", "B", "C", "D"}

// IndicatorState is the per-question marker of the status strip.
type IndicatorState string

const (
	IndicatorPending    IndicatorState = "pending"
	IndicatorAnswered   IndicatorState = "answered"
	IndicatorCorrect    IndicatorState = "correct"
	IndicatorIncorrect  IndicatorState = "incorrect"
	IndicatorUnanswered IndicatorState = "unanswered"
)

// View is a read-only projection of a Session used by every renderer.
type View struct {
	Attempt       string       `json:"attempt,omitempty"`
	Mode          Mode         `json:"mode"`
	Topic         string       `json:"topic,omitempty"`
	Difficulty    string       `json:"difficulty,omitempty"`
	Label         string       `json:"label,omitempty"`
	Index         int          `json:"index"`
	Total         int          `json:"total"`
	Question      string       `json:"question,omitempty"`
	Options       []OptionView `json:"options,omitempty"`
	Solution      string       `json:"solution,omitempty"`
	Status        []Indicator  `json:"status,omitempty"`
	Nav           NavView      `json:"nav"`
	Clock         string       `json:"clock,omitempty"`
	TimeRemaining int          `json:"timeRemaining"`
	Score         *ScoreView   `json:"score,omitempty"`
	Notice        *Notice      `json:"notice,omitempty"`
}

type OptionView struct {
	Letter   string `json:"letter"`
	Text     string `json:"text"`
	Selected bool   `json:"selected,omitempty"`
	// Correct and WrongPick are only set in review mode.
	Correct   bool `json:"correct,omitempty"`
	WrongPick bool `json:"wrongPick,omitempty"`
}

type Indicator struct {
	Number  int            `json:"number"`
	State   IndicatorState `json:"state"`
	Current bool           `json:"current,omitempty"`
}

type NavView struct {
	PrevDisabled  bool   `json:"prevDisabled"`
	NextHidden    bool   `json:"nextHidden"`
	NextLabel     string `json:"nextLabel,omitempty"`
	SubmitVisible bool   `json:"submitVisible"`
	CanSelect     bool   `json:"canSelect"`
}

type ScoreView struct {
	Result
	Text    string `json:"text"`
	Title   string `json:"title"`
	Styling string `json:"styling"`
	Visible bool   `json:"visible"`
}

// View projects the current state. It never mutates the session.
func (s *Session) View() View {
	v := View{Mode: s.mode, Attempt: s.Attempt(), Notice: s.notice}
	if s.mode == ModeLoading {
		v.Topic = s.request.Topic
		v.Difficulty = s.request.Difficulty
	}
	a := s.attempt
	if a == nil {
		return v
	}
	reviewing := s.mode == ModeReviewing
	q := a.questions[a.current]
	last := len(a.questions) - 1

	v.Topic = a.request.Topic
	v.Difficulty = a.request.Difficulty
	v.Index = a.current
	v.Total = len(a.questions)
	v.Label = fmt.Sprintf("Question %d of %d", a.current+1, v.Total)
	v.Question = q.Question
	v.TimeRemaining = a.timeRemaining

	picked := a.answers[a.current]
	for i, opt := range q.Options {
		ov := OptionView{Letter: optionLetters[i%OptionCount], Text: opt}
		if reviewing {
			ov.Correct = opt == q.Answer
			ov.WrongPick = !ov.Correct && opt == picked
		} else {
			ov.Selected = opt == picked
		}
		v.Options = append(v.Options, ov)
	}

	for i, question := range a.questions {
		ind := Indicator{Number: i + 1, Current: i == a.current, State: IndicatorPending}
		answer := a.answers[i]
		switch {
		case reviewing && answer == "":
			ind.State = IndicatorUnanswered
		case reviewing && answer == question.Answer:
			ind.State = IndicatorCorrect
		case reviewing:
			ind.State = IndicatorIncorrect
		case answer != "":
			ind.State = IndicatorAnswered
		}
		v.Status = append(v.Status, ind)
	}

	if reviewing {
		v.Solution = q.Solution
		v.Nav = NavView{NextLabel: "Next"}
		if a.current == last {
			v.Nav.NextLabel = "Finish Review"
		}
		if a.result != nil {
			v.Score = scoreView(*a.result, a.scoreVisible)
		}
		return v
	}

	v.Clock = FormatClock(displaySeconds(a.timeRemaining, s.settings.TotalSeconds))
	v.Nav = NavView{
		PrevDisabled:  a.current == 0,
		NextHidden:    a.current == last,
		NextLabel:     "Next",
		SubmitVisible: a.current == last,
		CanSelect:     true,
	}
	return v
}

func scoreView(r Result, visible bool) *ScoreView {
	sv := &ScoreView{Result: r, Text: r.String(), Visible: visible, Title: "Quiz Complete!", Styling: "fail"}
	if r.Reason == SubmitTimeout {
		sv.Title = "Time's Up!"
	}
	if r.Passed {
		sv.Styling = "pass"
	}
	return sv
}

// displaySeconds caps the countdown one second below its start so a fresh
// 601-second timer reads 10:00.
func displaySeconds(remaining, total int) int {
	if remaining > total-1 {
		return total - 1
	}
	return remaining
}

// FormatClock renders seconds as MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
