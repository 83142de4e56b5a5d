package record

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultsGecos(t *testing.T) {
	u, n, err := Parse([]byte(`{"username":"alice","uid":42,"sshPublicKeys":["ssh-ed25519 AAAA..."]}`))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "alice", u.Username)
	assert.EqualValues(t, 42, u.UID)
	assert.Equal(t, DefaultGecos, u.Gecos)
	assert.Equal(t, []string{"ssh-ed25519 AAAA..."}, u.PublicKeys)
	assert.Empty(t, u.PasswordHash)
	assert.True(t, u.Valid())
}

func TestParseMissingUID(t *testing.T) {
	u, n, err := Parse([]byte(`{"username":"bob","passwordHash":"$6$x$y","gecos":"Bob"}`))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.False(t, u.Valid())
}

func TestParseBadUID(t *testing.T) {
	for _, uid := range []string{`"42"`, `-3`, `-0`, `4.5`, `1e3`, `null`, `true`} {
		t.Run(uid, func(t *testing.T) {
			_, n, err := Parse([]byte(`{"username":"bob","passwordHash":"h","uid":` + uid + `}`))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestParseTrailingContent(t *testing.T) {
	const obj = `{"username":"alice","uid":42,"passwordHash":"h"}`
	_, n, err := Parse([]byte(obj + " \n"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, tail := range []string{`{"username":"mallory"}`, `x`, `,`} {
		t.Run(tail, func(t *testing.T) {
			u, n, err := Parse([]byte(obj + tail))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, "alice", u.Username)
		})
	}
}

func TestParseFullRecordGrowsBudget(t *testing.T) {
	data := `{"username":"carol","uid":7,"passwordHash":"$2b$12$abc","gecos":"Carol C",` +
		`"sshPublicKeys":["k1","k2","k3","k4"],"extra":{"nested":[1,2,3]}}`
	u, n, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "Carol C", u.Gecos)
	assert.Equal(t, "$2b$12$abc", u.PasswordHash)
	assert.Len(t, u.PublicKeys, 4)
}

func TestParseFirstDuplicateWins(t *testing.T) {
	u, _, err := Parse([]byte(`{"username":"dave","username":"eve","uid":1,"passwordHash":"h"}`))
	require.NoError(t, err)
	assert.Equal(t, "dave", u.Username)
}

func TestParseNullsAreAbsent(t *testing.T) {
	u, n, err := Parse([]byte(`{"username":"fay","uid":3,"passwordHash":null,"gecos":null,"sshPublicKeys":["k"]}`))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, u.PasswordHash)
	assert.Equal(t, DefaultGecos, u.Gecos)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		in  string
		err error
	}{
		"array":       {`[1,2,3]`, ErrNotObject},
		"string":      {`"alice"`, ErrNotObject},
		"two members": {`{"username":"a","uid":1}`, ErrTooFewMembers},
		"truncated":   {`{"username":"a","uid":1,"gecos":`, ErrSyntax},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Parse([]byte(tc.in))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestParseTokenBudgetExhausted(t *testing.T) {
	keys := make([]string, 11<<MaxBudgetDoublings)
	for i := range keys {
		keys[i] = fmt.Sprintf("%q", fmt.Sprintf("k%d", i))
	}
	data := `{"username":"g","uid":1,"sshPublicKeys":[` + strings.Join(keys, ",") + `]}`
	_, _, err := Parse([]byte(data))
	assert.ErrorIs(t, err, ErrTokenBudget)
}

func TestProblems(t *testing.T) {
	u := User{UID: 0}
	assert.Len(t, u.Problems(), 3)
	u = User{Username: "h", UID: 5, PublicKeys: []string{"k"}}
	assert.Empty(t, u.Problems())
}

func TestDay(t *testing.T) {
	assert.EqualValues(t, 1, Day(time.Unix(86400+5, 0)))
}
