/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package scad

// SyntaxError is fatal for the translation unit it occurred in. Scanner and
// parser panic with it; Frontend.Parse recovers and hands it to the driver.
type SyntaxError struct {
	Loc    Location
	Reason string
}

func (e *SyntaxError) Error() string {
	return e.Loc.String() + ": " + e.Reason
}

// Warning does not abort compilation. Prev carries the second location for
// duplicated-declaration warnings.
type Warning struct {
	Loc     Location
	Prev    *Location
	Message string
}

func (w Warning) String() string {
	s := w.Loc.String() + ": warning: " + w.Message
	if w.Prev != nil {
		s += " (previous at " + w.Prev.String() + ")"
	}
	return s
}
