package proxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidates(t *testing.T) {
	win := Candidates("windows", "", "alice")
	assert.Len(t, win, 9)
	assert.Equal(t, `C:\Users\alice\Desktop\Tor Browser\Browser\firefox.exe`, win[0])
	assert.Contains(t, win, `E:\Program Files (x86)\Tor Browser\Browser\firefox.exe`)

	assert.Equal(t, []string{"/Applications/Tor Browser.app/Contents/MacOS/firefox"}, Candidates("darwin", "/Users/a", "a"))

	linux := Candidates("linux", "/home/bob", "bob")
	assert.Equal(t, []string{
		"/usr/bin/tor-browser",
		"/home/bob/.local/share/torbrowser/tbb/x86_64/tor-browser/Browser/firefox",
	}, linux)
}

func TestFindIn(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "firefox")
	require.NoError(t, os.WriteFile(present, []byte("#!/bin/sh\n"), 0755))
	missing := filepath.Join(dir, "nope")

	got, err := findIn("", []string{missing, present}, fileExists)
	require.NoError(t, err)
	assert.Equal(t, present, got)

	got, err = findIn(present, []string{missing}, fileExists)
	require.NoError(t, err)
	assert.Equal(t, present, got)

	_, err = findIn(missing, []string{present}, fileExists)
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	_, err = findIn("", []string{missing, dir}, fileExists)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}
