// Package bletest provides an in-memory radio, peripheral and clock for
// testing code built on package ble.
//
// The doubles record every call and expose Simulate* methods that deliver
// driver events synchronously. Pair them with ble.Inline to get fully
// deterministic tests.
package bletest
