package record

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/hnrobert/fega/internal/logger"
)

const (
	keyUsername = "username"
	keyUID      = "uid"
	keyPassword = "passwordHash"
	keyKeys     = "sshPublicKeys"
	keyGecos    = "gecos"

	// initialBudget covers an object with five key/value pairs.
	initialBudget = 11
	// MaxBudgetDoublings bounds the re-parse loop: 11 << 8 tokens.
	MaxBudgetDoublings = 8
	minMembers         = 3
)

var (
	ErrNotObject     = errors.New("record: top-level value is not an object")
	ErrTooFewMembers = errors.New("record: too few members")
	ErrSyntax        = errors.New("record: invalid json")
	ErrTokenBudget   = errors.New("record: token budget exceeded")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errBudget = errors.New("budget")

// Parse decodes one user object. It returns the record, the number of
// structural errors (0 when well formed) and a non-nil error only when the
// input cannot be read as an object at all. Business validation is left to
// the caller; see User.Valid.
//
// Parsing is a single pass over the input with a token budget. When the
// budget runs out the budget doubles and parsing restarts from the first
// byte, at most MaxBudgetDoublings times.
func Parse(data []byte) (User, int, error) {
	budget := initialBudget
	for attempt := 0; ; attempt++ {
		logger.Debug("parsing record with %d tokens", budget)
		p := parser{budget: budget}
		u, err := p.parse(data)
		if !errors.Is(err, errBudget) {
			return u, p.errors, err
		}
		if attempt == MaxBudgetDoublings {
			return User{}, 0, fmt.Errorf("%w: more than %d tokens", ErrTokenBudget, budget)
		}
		budget *= 2
	}
}

type parser struct {
	budget int
	used   int
	errors int
	seen   map[string]bool
}

func (p *parser) take() bool {
	p.used++
	return p.used <= p.budget
}

func (p *parser) parse(data []byte) (User, error) {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return User{}, ErrNotObject
	}
	if !p.take() {
		return User{}, errBudget
	}

	u := User{UID: -1}
	p.seen = map[string]bool{}
	members := 0
	exhausted := false
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		members++
		// The key and its value.
		if !p.take() || !p.take() {
			exhausted = true
			return false
		}
		if !p.known(key) {
			logger.Debug("skipping unexpected key %q", key)
			it.Skip()
			return true
		}
		if p.seen[key] {
			logger.Debug("duplicate key %q ignored", key)
			it.Skip()
			return true
		}
		p.seen[key] = true
		if !p.value(it, key, &u) {
			exhausted = true
			return false
		}
		return it.Error == nil
	})
	if exhausted {
		return User{}, errBudget
	}
	if iter.Error != nil {
		return User{}, fmt.Errorf("%w: %v", ErrSyntax, iter.Error)
	}
	if members < minMembers {
		return User{}, fmt.Errorf("%w: %d", ErrTooFewMembers, members)
	}
	// Only whitespace may follow the object; WhatIsNext hits EOF then.
	iter.WhatIsNext()
	if !errors.Is(iter.Error, io.EOF) {
		logger.Debug("trailing content after record")
		p.errors++
	}
	if !p.seen[keyUID] {
		logger.Debug("record has no uid")
		p.errors++
	}
	if u.Gecos == "" {
		u.Gecos = DefaultGecos
	}
	return u, nil
}

func (p *parser) known(key string) bool {
	switch key {
	case keyUsername, keyUID, keyPassword, keyKeys, keyGecos:
		return true
	}
	return false
}

// value decodes the value of a known key. It returns false when the token
// budget runs out.
func (p *parser) value(it *jsoniter.Iterator, key string, u *User) bool {
	switch key {
	case keyUsername:
		u.Username = readString(it)
	case keyPassword:
		u.PasswordHash = readString(it)
	case keyGecos:
		u.Gecos = readString(it)
	case keyUID:
		n, ok := readUID(it)
		if !ok {
			p.errors++
			return true
		}
		u.UID = n
	case keyKeys:
		if it.WhatIsNext() != jsoniter.ArrayValue {
			it.Skip()
			return true
		}
		var keys []string
		ok := it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			if !p.take() {
				return false
			}
			if it.WhatIsNext() != jsoniter.StringValue {
				logger.Debug("skipping non-string public key")
				it.Skip()
				return true
			}
			keys = append(keys, it.ReadString())
			return true
		})
		if !ok && it.Error == nil {
			return false
		}
		u.PublicKeys = keys
	}
	return true
}

// readString returns the string value, or "" for null and other types.
func readString(it *jsoniter.Iterator) string {
	if it.WhatIsNext() == jsoniter.StringValue {
		return it.ReadString()
	}
	it.Skip()
	return ""
}

// readUID accepts only a plain non-negative integer literal: no sign,
// fraction or exponent.
func readUID(it *jsoniter.Iterator) (int64, bool) {
	if it.WhatIsNext() != jsoniter.NumberValue {
		it.Skip()
		return 0, false
	}
	raw := bytes.TrimSpace(it.SkipAndReturnBytes())
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || raw[0] == '+' || raw[0] == '-' {
		return 0, false
	}
	return n, true
}
