// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package pool

import "errors"

// ErrPoolFull is returned by Admit when every slot is occupied. Under
// normal operation this should not happen if the admission semaphore
// guarding this pool is sized to its capacity; it exists as a defined
// failure mode rather than a blocking wait so callers can surface it.
var ErrPoolFull = errors.New("pool: at capacity")

// ErrPoolStopped is returned by any operation submitted after Stop.
var ErrPoolStopped = errors.New("pool: stopped")

// ErrNotResident is returned by Sync when stateID is not currently bound to
// a slot in this pool.
var ErrNotResident = errors.New("pool: state not resident in this pool")
