// Package compiler turns desired-state documents into model versions.
//
// A document lists the resources of one version keyed by resource id:
//
//	version: 3
//	resources:
//	  "std::Directory[web01,path=/srv/www]":
//	    attributes: {mode: 0o755}
//	  "std::File[web01,path=/srv/www/index.html]":
//	    requires: ["std::Directory[web01,path=/srv/www]"]
//	    attributes:
//	      content: "hello"
//	      owner: !unknown
//
// Documents are written in YAML or as a CUE package with the same shape. A
// value the document leaves unresolved (a YAML !unknown tag, or a CUE field
// that is not concrete) is recorded as an unknown of its resource; the
// scheduler never dispatches such a resource.
//
// Floats are rejected: attribute values are strings, integers, booleans,
// null, lists and objects, so attribute hashes are stable.
package compiler
