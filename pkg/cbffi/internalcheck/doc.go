// Package internalcheck holds static policy tests for the module. It has no
// API; its tests load the module's packages with golang.org/x/tools and fail
// on code that breaks boundary rules:
//
//   - only cmd/libcbffi imports "C"
//   - unsafe is confined to the buffer descriptor and the C edge
//   - key material is never hex formatted in the keys package
//   - byte arrays holding secrets are not compared with ==
package internalcheck
