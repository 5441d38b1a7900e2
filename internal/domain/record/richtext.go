package record

import "encoding/json"

// Lexical editor document, the format the IDE uses for the composer input.
type lexicalNode struct {
	Children  []lexicalNode `json:"children,omitempty"`
	Detail    *int          `json:"detail,omitempty"`
	Direction *string       `json:"direction"`
	Format    any           `json:"format"`
	Indent    *int          `json:"indent,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	Style     *string       `json:"style,omitempty"`
	Text      *string       `json:"text,omitempty"`
	Type      string        `json:"type"`
	Version   int           `json:"version"`
}

type lexicalDoc struct {
	Root lexicalNode `json:"root"`
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

// messageRichText returns a root > paragraph > text document holding text.
func messageRichText(text string) string {
	textNode := lexicalNode{
		Detail:  intp(0),
		Format:  0,
		Mode:    "normal",
		Style:   strp(""),
		Text:    strp(text),
		Type:    "text",
		Version: 1,
	}
	paragraph := lexicalNode{
		Children: []lexicalNode{textNode},
		Format:   "",
		Indent:   intp(0),
		Type:     "paragraph",
		Version:  1,
	}
	return marshalDoc(lexicalNode{
		Children: []lexicalNode{paragraph},
		Format:   "",
		Indent:   intp(0),
		Type:     "root",
		Version:  1,
	})
}

// emptyRichText is an empty paragraph, used for composer input state.
func emptyRichText() string {
	doc := `{"root":{"children":[{"children":[],"format":"","indent":0,"type":"paragraph","version":1}],"format":"","indent":0,"type":"root","version":1}}`
	return doc
}

func marshalDoc(root lexicalNode) string {
	b, err := json.Marshal(lexicalDoc{Root: root})
	if err != nil {
		// Only plain strings and ints are involved.
		panic(err)
	}
	return string(b)
}

// richTextOK reports whether s decodes to a document with a typed root.
func richTextOK(s string) bool {
	var doc struct {
		Root *struct {
			Type     string            `json:"type"`
			Children []json.RawMessage `json:"children"`
		} `json:"root"`
	}
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return false
	}
	return doc.Root != nil && doc.Root.Type == "root" && doc.Root.Children != nil
}
