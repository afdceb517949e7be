// Copyright 2025 Poiesic Systems
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

// Package grounding adapts search results for the two downstream consumers.
//
// ChatGrounder builds the context block handed to the conversational widget.
// It distinguishes "nothing relevant" from "search unavailable", and on
// failure substitutes a generic apology rather than surfacing the error.
//
// ContentGrounder supplies factual grounding to the content generator. It
// restricts results to the chunk types a topic needs, retries a failed
// search once, and falls back to the last content that grounded the same
// collection and topic successfully.
package grounding
