// Package status infers a construction project's lifecycle status from its
// activities and their planned/actual progress records.
//
// Everything in this package is a pure function of its inputs. The caller
// supplies the clock, and nothing here touches storage or logs.
package status
