// Package auth contains the session status types authkeeper prints for
// other programs to consume.
//
// The JSON shape is stable: fields are only ever added.
package auth
