package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
	"github.com/oumi-open-ai/AIShortX-sub001/session"
)

// editor is the part of *session.Session the REPL drives.
type editor interface {
	Snapshot() *models.ProjectSnapshot
	AddFrame(index int, f models.Storyboard) (*session.Task, int64, error)
	MoveFrame(from, to int) (*session.Task, error)
	DeleteFrame(id int64) (*session.Task, error)
	SetFrameText(id int64, text string) error
	AttachCharacter(frameID, characterID int64) (*session.Task, error)
	DetachCharacter(frameID, characterID int64) (*session.Task, error)
	SetFrameScene(frameID, sceneID int64) (*session.Task, error)
	GenerateImage(ctx context.Context, kind models.EntityKind, id int64, model string) (*session.Job, error)
	GenerateVideo(ctx context.Context, frameID int64, variant session.VideoVariant, model string) (*session.Job, error)
	Undo() (*session.Task, error)
	Redo() (*session.Task, error)
	UndoDescription() string
	RedoDescription() string
}

var _ editor = (*session.Session)(nil)

var errQuit = errors.New("quit")

type repl struct {
	ed       editor
	out      io.Writer
	commands map[string]command
}

type command struct {
	usage string
	args  int // minimum argument count
	run   func(ctx context.Context, args []string) error
}

func newREPL(ed editor, out io.Writer) *repl {
	r := &repl{ed: ed, out: out}
	r.commands = map[string]command{
		"help":         {usage: "help", run: r.help},
		"frames":       {usage: "frames", run: r.frames},
		"add-frame":    {usage: "add-frame <index> <text>", args: 1, run: r.addFrame},
		"move":         {usage: "move <from> <to>", args: 2, run: r.move},
		"delete-frame": {usage: "delete-frame <id>", args: 1, run: r.deleteFrame},
		"text":         {usage: "text <id> <text>", args: 1, run: r.text},
		"attach":       {usage: "attach <frame> <character>", args: 2, run: r.attach(true)},
		"detach":       {usage: "detach <frame> <character>", args: 2, run: r.attach(false)},
		"scene":        {usage: "scene <frame> <scene|0>", args: 2, run: r.scene},
		"gen-image":    {usage: "gen-image <frame> [model]", args: 1, run: r.genImage},
		"gen-video":    {usage: "gen-video <frame> [primary|enhanced] [model]", args: 1, run: r.genVideo},
		"undo":         {usage: "undo", run: r.undo},
		"redo":         {usage: "redo", run: r.redo},
		"quit":         {usage: "quit", run: func(context.Context, []string) error { return errQuit }},
	}
	return r
}

// Run reads commands from in until quit, end of input or ctx is done.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.Exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(r.out, "error:", err)
		}
	}
}

// Exec runs one command line.
func (r *repl) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := r.commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	args := fields[1:]
	if len(args) < cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, args)
}

func (r *repl) help(context.Context, []string) error {
	names := []string{"frames", "add-frame", "move", "delete-frame", "text", "attach", "detach",
		"scene", "gen-image", "gen-video", "undo", "redo", "quit"}
	for _, name := range names {
		fmt.Fprintln(r.out, " ", r.commands[name].usage)
	}
	return nil
}

func (r *repl) frames(context.Context, []string) error {
	snap := r.ed.Snapshot()
	if len(snap.Storyboards) == 0 {
		fmt.Fprintln(r.out, "no frames")
		return nil
	}
	for i, f := range snap.Storyboards {
		id := strconv.FormatInt(f.ID, 10)
		if models.IsPlaceholderID(f.ID) {
			id += " (saving)"
		}
		fmt.Fprintf(r.out, "%2d  #%s  %q  scene=%d chars=%v image=%s video=%s\n",
			i, id, f.Text, f.SceneID, []int64(f.CharacterIDs), f.ImageStatus, f.VideoStatus)
	}
	if d := r.ed.UndoDescription(); d != "" {
		fmt.Fprintln(r.out, "undo:", d)
	}
	if d := r.ed.RedoDescription(); d != "" {
		fmt.Fprintln(r.out, "redo:", d)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// rest joins the arguments after the first n back into free text.
func rest(args []string, n int) string {
	if len(args) <= n {
		return ""
	}
	return strings.Join(args[n:], " ")
}

func (r *repl) addFrame(_ context.Context, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	_, id, err := r.ed.AddFrame(index, models.Storyboard{Text: rest(args, 1)})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "added frame #%d\n", id)
	return nil
}

func (r *repl) move(_ context.Context, args []string) error {
	from, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	to, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[1])
	}
	_, err = r.ed.MoveFrame(from, to)
	return err
}

func (r *repl) deleteFrame(_ context.Context, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	_, err = r.ed.DeleteFrame(id)
	return err
}

func (r *repl) text(_ context.Context, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return r.ed.SetFrameText(id, rest(args, 1))
}

func (r *repl) attach(attach bool) func(context.Context, []string) error {
	return func(_ context.Context, args []string) error {
		frame, err := parseID(args[0])
		if err != nil {
			return err
		}
		char, err := parseID(args[1])
		if err != nil {
			return err
		}
		if attach {
			_, err = r.ed.AttachCharacter(frame, char)
		} else {
			_, err = r.ed.DetachCharacter(frame, char)
		}
		return err
	}
}

func (r *repl) scene(_ context.Context, args []string) error {
	frame, err := parseID(args[0])
	if err != nil {
		return err
	}
	scene, err := parseID(args[1])
	if err != nil {
		return err
	}
	_, err = r.ed.SetFrameScene(frame, scene)
	return err
}

func (r *repl) genImage(ctx context.Context, args []string) error {
	frame, err := parseID(args[0])
	if err != nil {
		return err
	}
	job, err := r.ed.GenerateImage(ctx, models.KindStoryboard, frame, rest(args, 1))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "image job %s %s\n", job.ID, job.Status)
	return nil
}

func (r *repl) genVideo(ctx context.Context, args []string) error {
	frame, err := parseID(args[0])
	if err != nil {
		return err
	}
	variant := session.VideoPrimary
	model := ""
	if len(args) > 1 {
		variant = session.VideoVariant(args[1])
	}
	if len(args) > 2 {
		model = args[2]
	}
	job, err := r.ed.GenerateVideo(ctx, frame, variant, model)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "video job %s %s\n", job.ID, job.Status)
	return nil
}

func (r *repl) undo(context.Context, []string) error {
	desc := r.ed.UndoDescription()
	if _, err := r.ed.Undo(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "undid", desc)
	return nil
}

func (r *repl) redo(context.Context, []string) error {
	desc := r.ed.RedoDescription()
	if _, err := r.ed.Redo(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "redid", desc)
	return nil
}
