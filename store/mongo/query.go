package mongo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rbaliyan/calllog/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// regexMetaChars matches regex metacharacters that need escaping.
var regexMetaChars = regexp.MustCompile(`[\\^$.|?*+()[\]{}]`)

// escapeRegex escapes regex metacharacters in a string to prevent regex injection.
func escapeRegex(s string) string {
	return regexMetaChars.ReplaceAllString(s, `\$0`)
}

// fieldName maps a call column to its document field.
func fieldName(column string) string {
	if column == store.ColumnID {
		return "_id"
	}
	return column
}

// buildFilter translates a predicate into a query document. Terms are
// combined with $and so several comparisons on one field do not collide.
func buildFilter(p store.Predicate) (bson.M, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	terms := p.Terms()
	if len(terms) == 0 {
		return bson.M{}, nil
	}
	and := make([]bson.M, 0, len(terms))
	for _, t := range terms {
		cmps := t.Comparisons()
		if !t.IsGroup() {
			and = append(and, comparisonFilter(cmps[0]))
			continue
		}
		or := make([]bson.M, len(cmps))
		for i, c := range cmps {
			or[i] = comparisonFilter(c)
		}
		and = append(and, bson.M{"$or": or})
	}
	return bson.M{"$and": and}, nil
}

func comparisonFilter(c store.Comparison) bson.M {
	field := fieldName(c.Column())
	value := store.Normalize(c.Value())
	switch c.Operator() {
	case store.OpGreater:
		return bson.M{field: bson.M{"$gt": value}}
	case store.OpLessEqual:
		return bson.M{field: bson.M{"$lte": value}}
	case store.OpLike:
		pattern, _ := value.(string)
		return bson.M{field: bson.M{"$regex": likeToRegex(pattern), "$options": "is"}}
	default:
		return bson.M{field: value}
	}
}

// likeToRegex converts a LIKE pattern using store.LikeEscape into an
// anchored regular expression.
func likeToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(escapeRegex(string(r)))
			escaped = false
		case r == store.LikeEscape:
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteByte('.')
		default:
			b.WriteString(escapeRegex(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// MongoDB server error codes mapped to store faults.
const (
	codeNamespaceNotFound     = 26
	codeShutdownInProgress    = 91
	codeWriteConflict         = 112
	codeInterruptedAtShutdown = 11600
	codeOutOfDiskSpace        = 14031
)

// mapError translates driver errors into store sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var kind error
	var se mongo.ServerError
	switch {
	case errors.Is(err, mongo.ErrClientDisconnected), mongo.IsNetworkError(err):
		kind = store.ErrUnavailable
	case errors.As(err, &se):
		switch {
		case se.HasErrorCode(codeOutOfDiskSpace):
			kind = store.ErrDiskFull
		case se.HasErrorCode(codeWriteConflict):
			kind = store.ErrBusy
		case se.HasErrorCode(codeNamespaceNotFound),
			se.HasErrorCode(codeShutdownInProgress),
			se.HasErrorCode(codeInterruptedAtShutdown):
			kind = store.ErrUnavailable
		}
	}
	if kind == nil {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
