//go:build tools

package tools

// Mocks are generated by an installed mockery v3 binary, so no tool
// imports are tracked here. Run mockery from the repository root; the
// interfaces it covers are listed in .mockery.yml.
