package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warden-dev/warden/pkg/client"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &client.APIError{StatusCode: 404, Kind: "not-found"}, exitNotFound},
		{"launch failure", &client.APIError{StatusCode: 422, Kind: "launch-error"}, exitLaunchFailure},
		{"invalid args from daemon", &client.APIError{StatusCode: 400, Kind: "invalid-arguments"}, exitInvalidArgs},
		{"invalid args local", usageErrorf("bad flag"), exitInvalidArgs},
		{"other api error", &client.APIError{StatusCode: 500}, exitError},
		{"plain error", assert.AnError, exitError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCodeFor(tc.err))
		})
	}
}

func TestBuildRootRegistersCommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{
		"start": false, "list": false, "status": false, "stop": false,
		"pin": false, "unpin": false, "purge": false, "events": false, "serve": false,
	}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, seen := range want {
		assert.True(t, seen, "command %s registered", name)
	}
}

func TestStartValidatesLocally(t *testing.T) {
	c := command{global: &GlobalFlags{}}

	err := c.Start(StartFlags{WorkDir: "relative/dir"}, "web", []string{"/bin/true"})
	assert.Equal(t, exitInvalidArgs, exitCodeFor(err))

	err = c.Start(StartFlags{Env: []string{"NOEQUALS"}}, "web", []string{"/bin/true"})
	assert.Equal(t, exitInvalidArgs, exitCodeFor(err))
}
