// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package weightsink

// Mock records every SetWeights call without touching the filesystem. It
// is exported (not _test.go) so that ratioctl and other consumers can use
// it in their own test suites.
type Mock struct {
	Calls []Weights
	Err   error
}

// Weights is one recorded (local, remote) pair.
type Weights struct {
	Local, Remote uint8
}

// SetWeights records the call and returns m.Err.
func (m *Mock) SetWeights(local, remote uint8) error {
	m.Calls = append(m.Calls, Weights{Local: local, Remote: remote})
	return m.Err
}

// Last returns the most recently committed weights, or the zero value if
// nothing has been committed yet.
func (m *Mock) Last() Weights {
	if len(m.Calls) == 0 {
		return Weights{}
	}
	return m.Calls[len(m.Calls)-1]
}
