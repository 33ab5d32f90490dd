package format

import (
	"encoding/json"
	"io"
	"sort"
	"text/template"

	"github.com/manifoldco/promptui"
)

var FuncMap = template.FuncMap{
	"bufferToString": func(b []byte) string { return string(b) },
	"shorten": func(s string) string {
		if len(s) < 8 {
			return s
		}
		return s[0:8]
	},
	"json": func(v interface{}) string {
		out, err := json.Marshal(v)
		if err != nil {
			return err.Error()
		}
		return string(out)
	},
}

func ParseTemplate(body string) *template.Template {
	tpl, err := template.New("").Funcs(promptui.FuncMap).Funcs(FuncMap).Parse(body)
	if err != nil {
		panic(err)
	}
	return tpl
}

var StateTemplate = `• {{ .Category | green | bold }} {{ .Binding | faint }} {{ .Node | shorten | faint }}
{{- range .Fields }}
  {{ .Key | faint }} {{ .Value | json }}
{{- else }}
  {{ "(empty)" | faint }}
{{- end }}
`

var stateTemplate = ParseTemplate(StateTemplate)

type Field struct {
	Key   string
	Value interface{}
}

type StateView struct {
	Category string
	Binding  string
	Node     string
	Fields   []Field
}

// NewStateView lists doc's fields sorted by key.
func NewStateView(category, binding, node string, doc map[string]interface{}) StateView {
	view := StateView{Category: category, Binding: binding, Node: node, Fields: make([]Field, 0, len(doc))}
	for k, v := range doc {
		view.Fields = append(view.Fields, Field{Key: k, Value: v})
	}
	sort.Slice(view.Fields, func(i, j int) bool { return view.Fields[i].Key < view.Fields[j].Key })
	return view
}

func RenderState(w io.Writer, view StateView) error {
	return stateTemplate.Execute(w, view)
}
