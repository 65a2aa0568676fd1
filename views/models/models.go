package models

// NoteEmail carries the rendered pieces of a running note notification e-mail.
type NoteEmail struct {
	Intro    string
	Link     string
	Project  string
	Author   string
	When     string
	Category string
	NoteHTML string
}
