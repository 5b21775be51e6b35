package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-quiz/internal/generation"
	"github.com/loqalabs/loqa-quiz/internal/protocol"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
	"github.com/loqalabs/loqa-quiz/internal/render"
	"github.com/loqalabs/loqa-quiz/internal/wav"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'send', 'wav', 'inspect' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "send":
		err = runSend(os.Args[2:])
	case "wav":
		err = runWAV(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runValidate checks a JSON array of questions the way generated output is
// checked before it reaches a session.
func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("file", "questions.json", "Path to a JSON array of questions")
	_ = fs.Parse(args)

	data, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	questions, rejected, err := generation.Sanitize(data, quiz.MaxQuestions)
	if err != nil {
		return fmt.Errorf("parse %s: %w", *path, err)
	}
	for _, r := range rejected {
		fmt.Printf("item %d rejected: %s\n", r.Index+1, r.Reason)
	}
	if len(questions) == 0 {
		return fmt.Errorf("no usable questions")
	}
	fmt.Printf("%d question(s) valid\n", len(questions))
	return nil
}

// runSend issues one command on the quiz command subjects and prints the
// resulting state.
func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	payload := fs.String("data", "", "JSON payload for the command")
	text := fs.Bool("text", false, "Print the quiz as text instead of JSON")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: quizctl send [flags] <command>")
	}

	nc, err := nats.Connect(*server, nats.Name("quizctl"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	msg, err := nc.Request(protocol.CommandSubject(fs.Arg(0)), []byte(*payload), *timeout)
	if err != nil {
		return fmt.Errorf("send %s: %w", fs.Arg(0), err)
	}
	var reply protocol.Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != nil {
		return fmt.Errorf("%s: %s", reply.Error.Code, reply.Error.Message)
	}
	if *text && reply.Snapshot != nil {
		fmt.Print(render.Default().Text(reply.Snapshot.Quiz, reply.Snapshot.Narration))
		return nil
	}
	out, err := json.MarshalIndent(reply.Snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// runWAV wraps raw 16-bit little-endian mono PCM, as produced by speech
// backends, in a WAV container.
func runWAV(args []string) error {
	fs := flag.NewFlagSet("wav", flag.ExitOnError)
	in := fs.String("in", "", "Raw PCM input file")
	out := fs.String("out", "narration.wav", "WAV output file")
	rate := fs.Int("rate", 24000, "Sample rate in Hz")
	_ = fs.Parse(args)
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	samples := wav.DecodePCM16(raw)
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := wav.Write(f, samples, *rate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%s)\n", *out, wav.Duration(len(samples), *rate))
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	path := fs.String("file", "narration.wav", "WAV file to inspect")
	_ = fs.Parse(args)

	f, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := wav.Inspect(f)
	if err != nil {
		return err
	}
	fmt.Printf("format=%d channels=%d rate=%d bits=%d data=%dB duration=%s\n",
		info.AudioFormat, info.Channels, info.SampleRate, info.BitsPerSample, info.DataBytes, info.Duration)
	return nil
}
