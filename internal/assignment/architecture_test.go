package assignment

import (
	"testing"

	"secretsanta/testutil"
)

func TestEngineNeverReachesStorage(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden, "exclusions are supplied by the caller")
	testutil.AssertNoTransitiveDependency(t, ".", testutil.StorageImportForbidden, "exclusions are supplied by the caller")
}
