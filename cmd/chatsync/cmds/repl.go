package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/go-go-golems/chatsync/pkg/adapter"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/render"
	"github.com/pkg/errors"
)

const replHelp = `Commands:
  /new                       start a new conversation with the next message
  /list                      list conversations (* = not synced)
  /switch <n|id>             switch to a conversation
  /rename <title>            rename the current conversation
  /delete [n|id]             delete a conversation (default: current)
  /history                   show the current conversation
  /prompts                   list system prompts
  /prompt add <name> <text>  add a system prompt and make it active
  /prompt use <n|id|name>    activate a system prompt
  /prompt off                deactivate the active prompt
  /prompt delete <n|id|name> delete a system prompt
  /sync                      retry unsynced remote operations
  /quit                      leave
Anything else is sent to the current conversation.
`

// repl is the line-based front end of the chat command. Replies are printed
// by an event handler, the repl only prints command output.
type repl struct {
	adapter *adapter.Adapter
	out     io.Writer
	// confirm asks a yes/no question; nil confirms everything.
	confirm func(question string) (bool, error)
	// style is the glamour style for /history; empty prints plain markdown.
	style string
}

type lineResult struct {
	line string
	err  error
}

// lineReader reads one line per request, so nothing else reading from the
// same input (a confirmation prompt) races with it between requests.
type lineReader struct {
	req chan struct{}
	res chan lineResult
}

func newLineReader(in io.Reader) *lineReader {
	lr := &lineReader{req: make(chan struct{}), res: make(chan lineResult, 1)}
	go func() {
		r := bufio.NewReader(in)
		for range lr.req {
			line, err := r.ReadString('\n')
			if err == io.EOF && line != "" {
				err = nil
			}
			lr.res <- lineResult{line: line, err: err}
		}
	}()
	return lr
}

// Run reads lines from in until EOF, /quit or ctx is done.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	lines := newLineReader(in)
	defer close(lines.req)
	for {
		r.prompt()
		select {
		case <-ctx.Done():
			return nil
		case lines.req <- struct{}{}:
		}

		var l lineResult
		select {
		case <-ctx.Done():
			return nil
		case l = <-lines.res:
		}
		if l.err == io.EOF {
			return nil
		}
		if l.err != nil {
			return errors.Wrap(l.err, "reading input")
		}
		quit, err := r.handle(ctx, strings.TrimSpace(l.line))
		if err != nil {
			r.printf("error: %s\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) prompt() {
	st := r.adapter.InputState()
	if !st.Enabled {
		r.printf("(%s)\n", st.Placeholder)
	}
	label := "new"
	if c, ok := r.adapter.Store().CurrentConversation(); ok {
		label = c.Title
	}
	r.printf("[%s] > ", label)
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.submit(ctx, line)
	}

	fields := strings.Fields(line)
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.printf("%s", replHelp)
	case "/new":
		r.adapter.SelectConversation("")
	case "/list":
		r.listConversations()
	case "/switch":
		if len(args) != 1 {
			return false, errors.New("usage: /switch <n|id>")
		}
		id, err := r.conversationID(args[0])
		if err != nil {
			return false, err
		}
		r.adapter.SelectConversation(id)
	case "/rename":
		c, ok := r.adapter.Store().CurrentConversation()
		if !ok {
			return false, errors.New("no conversation selected")
		}
		if rest == "" {
			return false, errors.New("usage: /rename <title>")
		}
		r.adapter.RenameConversation(ctx, c.ID, rest)
	case "/delete":
		return false, r.deleteConversation(ctx, args)
	case "/history":
		return false, r.history()
	case "/prompts":
		r.listPrompts()
	case "/prompt":
		return false, r.prompts(args, rest)
	case "/sync":
		if !r.adapter.RemoteEnabled() {
			return false, errors.New("no remote backend configured")
		}
		res := r.adapter.Retry(ctx)
		r.printf("synced %d, still pending %d\n", res.Synced, res.Remaining)
	default:
		return false, errors.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

func (r *repl) submit(ctx context.Context, line string) error {
	st := r.adapter.InputState()
	if !st.Enabled {
		return errors.New(st.Placeholder)
	}
	current := r.adapter.Store().Snapshot().CurrentConversationID
	res := r.adapter.Submit(ctx, current, line)
	switch res.Outcome {
	case adapter.SubmitRejected:
		return res.Err
	case adapter.SubmitEmpty:
		r.printf("(empty reply)\n")
	}
	return nil
}

func (r *repl) listConversations() {
	st := r.adapter.Store().Snapshot()
	if len(st.Conversations) == 0 {
		r.printf("no conversations\n")
		return
	}
	for i, c := range st.Conversations {
		marker := " "
		if c.ID == st.CurrentConversationID {
			marker = ">"
		}
		unsynced := ""
		if st.Unsynced[c.ID] {
			unsynced = " *"
		}
		r.printf("%s %2d. %s (%d messages)%s\n", marker, i+1, c.Title, len(c.Messages), unsynced)
	}
}

// conversationID resolves a 1-based list index or an id.
func (r *repl) conversationID(ref string) (string, error) {
	st := r.adapter.Store().Snapshot()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(st.Conversations) {
			return "", errors.Errorf("no conversation %d", n)
		}
		return st.Conversations[n-1].ID, nil
	}
	if _, ok := st.Conversation(ref); !ok {
		return "", errors.Errorf("no conversation %s", ref)
	}
	return ref, nil
}

func (r *repl) deleteConversation(ctx context.Context, args []string) error {
	var c chat.Conversation
	if len(args) == 0 {
		current, ok := r.adapter.Store().CurrentConversation()
		if !ok {
			return errors.New("no conversation selected")
		}
		c = current
	} else {
		id, err := r.conversationID(args[0])
		if err != nil {
			return err
		}
		c, _ = r.adapter.Store().Conversation(id)
	}

	if r.confirm != nil {
		ok, err := r.confirm(fmt.Sprintf("Delete %q?", c.Title))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	r.adapter.DeleteConversation(ctx, c.ID)
	return nil
}

func (r *repl) history() error {
	c, ok := r.adapter.Store().CurrentConversation()
	if !ok {
		return errors.New("no conversation selected")
	}
	md, err := (&render.Renderer{Concise: true}).Markdown(c)
	if err != nil {
		return err
	}
	if r.style != "" {
		md, err = render.Terminal(md, r.style)
		if err != nil {
			return err
		}
	}
	r.printf("%s\n", strings.TrimRight(md, "\n"))
	return nil
}

func (r *repl) listPrompts() {
	prompts := r.adapter.Store().Snapshot().Prompts
	if len(prompts) == 0 {
		r.printf("no prompts\n")
		return
	}
	for i, p := range prompts {
		marker := " "
		if p.IsActive {
			marker = "*"
		}
		r.printf("%s %2d. %s: %s\n", marker, i+1, p.Name, p.Content)
	}
}

// promptID resolves a 1-based index, an id or a name.
func (r *repl) promptID(ref string) (string, error) {
	prompts := r.adapter.Store().Snapshot().Prompts
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(prompts) {
		return prompts[n-1].ID, nil
	}
	for _, p := range prompts {
		if p.ID == ref || p.Name == ref {
			return p.ID, nil
		}
	}
	return "", errors.Errorf("no prompt %s", ref)
}

func (r *repl) prompts(args []string, rest string) error {
	if len(args) == 0 {
		return errors.New("usage: /prompt add|use|off|delete")
	}
	switch args[0] {
	case "add":
		if len(args) < 3 {
			return errors.New("usage: /prompt add <name> <text>")
		}
		content := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(rest, "add"), " "+args[1]))
		p := r.adapter.CreatePrompt(args[1], content)
		r.printf("prompt %s is active\n", p.Name)
	case "use":
		if len(args) != 2 {
			return errors.New("usage: /prompt use <n|id|name>")
		}
		id, err := r.promptID(args[1])
		if err != nil {
			return err
		}
		r.adapter.SetPromptActive(id, true)
	case "off":
		if p, ok := r.adapter.Store().ActivePrompt(); ok {
			r.adapter.SetPromptActive(p.ID, false)
		}
	case "delete":
		if len(args) != 2 {
			return errors.New("usage: /prompt delete <n|id|name>")
		}
		id, err := r.promptID(args[1])
		if err != nil {
			return err
		}
		r.adapter.DeletePrompt(id)
	default:
		return errors.Errorf("unknown prompt command %s", args[0])
	}
	return nil
}

// unsyncedIDs returns the ids of conversations not yet mirrored, sorted.
func unsyncedIDs(a *adapter.Adapter) []string {
	st := a.Store().Snapshot()
	ret := make([]string, 0, len(st.Unsynced))
	for id, v := range st.Unsynced {
		if v {
			ret = append(ret, id)
		}
	}
	sort.Strings(ret)
	return ret
}
