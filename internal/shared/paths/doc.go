// Package paths translates cart-visible paths into real filesystem paths.
//
// Carts address files against the handheld's root ("/"), optionally behind a
// firmware-style device prefix ("NAME:"). A Resolver remaps those paths into
// a configurable sandbox root, locates files through an ordered search-path
// list, and tolerates case-mismatched names on case-sensitive hosts.
package paths
