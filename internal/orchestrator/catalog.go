package orchestrator

import (
	"fmt"
	"strings"
)

// collectionSpec is one scope→collection entry.
type collectionSpec struct {
	scope      string
	collection string
}

// indexSpec is a primary index created on the bucket.
type indexSpec struct {
	name string
}

// requiredScopes lists the scopes of the todo service, in creation order.
var requiredScopes = []string{"user-scope", "task-scope", "invalid-token-scope", "log-scope"}

var requiredCollections = []collectionSpec{
	{scope: "user-scope", collection: "user-collection"},
	{scope: "task-scope", collection: "task-collection"},
	{scope: "invalid-token-scope", collection: "invalid-token-collection"},
	{scope: "log-scope", collection: "log-collection"},
}

var requiredIndexes = []indexSpec{
	{name: "primary_index"},
}

// Identifiers are backtick-quoted: scope and collection names contain hyphens.

func createScopeStatement(bucket, scope string) string {
	return fmt.Sprintf("CREATE SCOPE %s.%s", quote(bucket), quote(scope))
}

func createCollectionStatement(bucket string, spec collectionSpec) string {
	return fmt.Sprintf("CREATE COLLECTION %s.%s.%s", quote(bucket), quote(spec.scope), quote(spec.collection))
}

func createIndexStatement(bucket string, spec indexSpec) string {
	return fmt.Sprintf("CREATE PRIMARY INDEX %s ON %s", quote(spec.name), quote(bucket))
}

func quote(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}
