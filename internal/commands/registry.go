// Package commands implements the slash commands of the bot independently of
// the Discord transport.
//
// A command is addressed by a space-separated route ("invite",
// "cooldown reset"). The transport turns the first token into a top-level
// slash command and the second into a subcommand.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"voxrelay/pkg/logx"
)

// UnknownCommandReply answers routes the registry does not know.
const UnknownCommandReply = "Error! Command does not exist!"

type ParamKind int

const (
	ParamString ParamKind = iota + 1
	ParamInt
)

// Param describes one command option.
type Param struct {
	Name        string
	Description string
	Kind        ParamKind
	Required    bool
	// MinValue applies to ParamInt.
	MinValue *float64
}

type HandlerFunc func(ctx context.Context, req *Request) (Response, error)

type Command struct {
	Route       string
	Description string
	Params      []Param
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request carries the invocation: who, where and the typed options.
type Request struct {
	Route   string
	User    string
	Channel string
	Guild   string
	Strings map[string]string
	Ints    map[string]int64
}

func (r *Request) String(name string) (string, bool) {
	v, ok := r.Strings[name]
	return v, ok
}

func (r *Request) Int(name string) (int64, bool) {
	v, ok := r.Ints[name]
	return v, ok
}

type Embed struct {
	Title    string
	ImageURL string
}

// Response is what the transport sends back. FollowUps are sent after the
// initial reply, in order.
type Response struct {
	Content   string
	Embeds    []Embed
	Ephemeral bool
	FollowUps []Response
}

type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode { return &cmdNode{children: map[string]*cmdNode{}} }

func splitRoute(route string) []string { return strings.Fields(route) }

func (n *cmdNode) add(route []string, c Command) {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
}

func (n *cmdNode) find(route []string) *cmdNode {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Registry routes requests to commands. It is immutable after construction.
type Registry struct {
	root *cmdNode
	log  logx.Logger
}

func NewRegistry(log logx.Logger, cmds ...Command) (*Registry, error) {
	r := &Registry{root: newRoot(), log: log.With(logx.Component("commands"))}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		switch {
		case len(route) == 0 || c.Handle == nil:
			return nil, fmt.Errorf("command %q: route and handler are required", c.Route)
		case len(route) > 2:
			return nil, fmt.Errorf("command %q: at most one subcommand level is supported", c.Route)
		}
		if n := r.root.find(route); n != nil && n.cmd != nil {
			return nil, fmt.Errorf("command %q registered twice", c.Route)
		}
		if n := r.root.find(route[:1]); len(route) == 2 && n != nil && n.cmd != nil {
			return nil, fmt.Errorf("command %q: %q already has a handler", c.Route, route[0])
		}
		if n := r.root.find(route); len(route) == 1 && n != nil && len(n.children) > 0 {
			return nil, fmt.Errorf("command %q already has subcommands", c.Route)
		}
		c.Route = strings.Join(route, " ")
		r.root.add(route, c)
	}
	return r, nil
}

// Group is a top-level command with either its own handler or subcommands.
type Group struct {
	Name        string
	Description string
	Command     *Command
	Subcommands []Command
}

// Groups folds the commands by their first route token.
func (r *Registry) Groups() []Group {
	names := make([]string, 0, len(r.root.children))
	for k := range r.root.children {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]Group, 0, len(names))
	for _, name := range names {
		n := r.root.children[name]
		g := Group{Name: name}
		if n.cmd != nil {
			c := *n.cmd
			g.Command = &c
			g.Description = c.Description
		}
		subs := make([]string, 0, len(n.children))
		for k := range n.children {
			subs = append(subs, k)
		}
		sort.Strings(subs)
		for _, s := range subs {
			if sc := n.children[s].cmd; sc != nil {
				g.Subcommands = append(g.Subcommands, *sc)
			}
		}
		if g.Description == "" && len(g.Subcommands) > 0 {
			g.Description = "Manage " + name
		}
		out = append(out, g)
	}
	return out
}

// Dispatch runs the command for req.Route. Unknown routes and handler
// errors become user-facing replies; panics are recovered.
func (r *Registry) Dispatch(ctx context.Context, req *Request) (resp Response) {
	route := splitRoute(req.Route)
	n := r.root.find(route)
	if n == nil || n.cmd == nil {
		r.log.Info("unknown command", logx.String("route", req.Route), logx.String("user", req.User))
		return Response{Content: UnknownCommandReply}
	}
	cmd := n.cmd

	log := r.log.With(logx.String("route", cmd.Route), logx.String("user", req.User),
		logx.String("channel", req.Channel), logx.String("guild", req.Guild))
	start := time.Now()
	log.Info("command start")

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("command panicked", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			resp = Response{Content: "Error! Command failed.", Ephemeral: true}
		}
	}()

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}
	resp, err := cmd.Handle(ctx, req)
	if err != nil {
		log.Warn("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return Response{Content: "Error! " + err.Error(), Ephemeral: true}
	}
	log.Info("command end", logx.Duration("took", time.Since(start)))
	return resp
}
