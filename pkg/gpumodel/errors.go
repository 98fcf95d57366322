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

package gpumodel

import "errors"

// ErrVariantMismatch is returned by Blit when the source and destination
// states were produced by kernels of different variants.
var ErrVariantMismatch = errors.New("gpumodel: state variant mismatch")

// ErrSlotOutOfRange is returned when a slot index falls outside a state's
// batch width.
var ErrSlotOutOfRange = errors.New("gpumodel: slot index out of range")

// ErrBatchSizeMismatch is returned by Model.Forward when the token batch
// and the state batch disagree on slot count.
var ErrBatchSizeMismatch = errors.New("gpumodel: token batch and state width disagree")
