/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonLabel(t *testing.T) {
	assert.Equal(t, "superseded", reasonLabel(ReasonSuperseded))
	assert.Equal(t, "deadline_expired", reasonLabel(ReasonDeadlineExpired))
	assert.Equal(t, "permission_denied", reasonLabel(ReasonPermissionDenied))
	assert.Equal(t, "shutting_down", reasonLabel(ReasonShuttingDown))
	assert.Equal(t, "unknown", reasonLabel(LostReason("backhoe")))
}
