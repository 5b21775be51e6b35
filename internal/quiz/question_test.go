package quiz

import "testing"

func TestQuestionValidate(t *testing.T) {
	good := Question{Question: "2+2?", Options: []string{"3", "4", "5", "6"}, Answer: "4"}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := map[string]Question{
		"three options":  {Question: "q", Options: []string{"a", "b", "c"}, Answer: "a"},
		"five options":   {Question: "q", Options: []string{"a", "b", "c", "d", "e"}, Answer: "a"},
		"answer missing": {Question: "q", Options: []string{"a", "b", "c", "d"}, Answer: "e"},
		"duplicate":      {Question: "q", Options: []string{"a", "a", "c", "d"}, Answer: "a"},
		"empty question": {Question: " ", Options: []string{"a", "b", "c", "d"}, Answer: "a"},
		"blank option":   {Question: "q", Options: []string{"a", "", "c", "d"}, Answer: "a"},
	}
	for name, q := range bad {
		if err := q.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNormalize(t *testing.T) {
	req, err := StartRequest{Topic: "  Optics ", QuestionCount: 10, Difficulty: " "}.Normalize(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Topic != "Optics" || req.Difficulty != DefaultDifficulty {
		t.Fatalf("unexpected normalized request %+v", req)
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[int]string{600: "10:00", 599: "09:59", 61: "01:01", 0: "00:00", -3: "00:00"}
	for in, want := range cases {
		if got := FormatClock(in); got != want {
			t.Fatalf("FormatClock(%d) = %q, want %q", in, got, want)
		}
	}
}
