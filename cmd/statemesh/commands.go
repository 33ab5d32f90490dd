package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/vx-labs/statemesh/format"
	"github.com/vx-labs/statemesh/mirror"
	"github.com/vx-labs/statemesh/state"
)

// document is the free-form state hosted by a node.
type document = map[string]interface{}

var errQuit = errors.New("quit")

const usage = `commands:
  get                   print the current state
  set FIELD=VALUE       set one field, VALUE is parsed as JSON when possible
  merge {JSON}          set every field of a JSON object
  replace {JSON}        replace the whole state
  quit                  leave the cluster
`

type shell struct {
	node    string
	channel *mirror.Channel[document]
	out     io.Writer
}

// parseValue reads raw as a JSON value, or as a bare string when it is not
// valid JSON.
func parseValue(raw string) interface{} {
	if gjson.Valid(raw) {
		return json.RawMessage(raw)
	}
	return raw
}

func (s *shell) execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	verb, args := line, ""
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		verb, args = line[:idx], strings.TrimSpace(line[idx+1:])
	}
	switch strings.ToLower(verb) {
	case "get":
		return s.get()
	case "set":
		idx := strings.Index(args, "=")
		if idx <= 0 {
			return errors.New("usage: set FIELD=VALUE")
		}
		field := strings.TrimSpace(args[:idx])
		return s.channel.MergeState(state.Partial{field: parseValue(strings.TrimSpace(args[idx+1:]))})
	case "merge":
		partial, err := state.PartialFromJSON([]byte(args))
		if err != nil {
			return err
		}
		return s.channel.MergeState(partial)
	case "replace":
		if !gjson.Valid(args) || !gjson.Parse(args).IsObject() {
			return state.ErrNotObject
		}
		doc := document{}
		if err := json.Unmarshal([]byte(args), &doc); err != nil {
			return err
		}
		return s.channel.SetState(doc)
	case "quit", "exit":
		return errQuit
	case "help":
		_, err := fmt.Fprint(s.out, usage)
		return err
	default:
		return fmt.Errorf("unknown command %q, try help", verb)
	}
}

func (s *shell) get() error {
	view := format.NewStateView(
		s.channel.Category().Name(), s.channel.Binding().Name, s.node, s.channel.GetState(),
	)
	return format.RenderState(s.out, view)
}
