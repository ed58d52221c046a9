// Copyright 2018-2019 The logrange Authors
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

package lsort

type (
	// keyCache is an LRU of parsed lines. The key is the exact line content,
	// so identical lines share one parsed key. The oldest not-used element
	// is pulled out first when the cache is full.
	//
	// keyCache is not synchronized, every sort job owns its own instance.
	keyCache struct {
		head    *cacheElement
		pool    *cacheElement
		kvMap   map[string]*cacheElement
		maxSize int
		hits    int64
		misses  int64
	}

	cacheElement struct {
		prev *cacheElement
		next *cacheElement
		key  string
		val  *lineKey
	}
)

func newKeyCache(maxSize int) *keyCache {
	kc := new(keyCache)
	kc.kvMap = make(map[string]*cacheElement, maxSize)
	kc.maxSize = maxSize
	return kc
}

// get returns the parsed key for the line or nil if there is no such one.
// The found element becomes the most recently used.
func (kc *keyCache) get(line []byte) *lineKey {
	e, ok := kc.kvMap[string(line)]
	if !ok {
		kc.misses++
		return nil
	}
	kc.hits++
	kc.head = removeFromList(kc.head, e)
	kc.head = addToHead(kc.head, e)
	return e.val
}

// put stores lk for the line, the least recently used elements are pulled
// out if the cache exceeds its maximum size.
func (kc *keyCache) put(line []byte, lk *lineKey) {
	if e, ok := kc.kvMap[string(line)]; ok {
		e.val = lk
		return
	}

	for kc.head != nil && len(kc.kvMap) >= kc.maxSize {
		kc.delete(kc.head.prev)
	}

	// reuse the pulled out element if we have one
	var e *cacheElement
	if kc.pool != nil {
		e = kc.pool
		kc.pool = nil
	} else {
		e = new(cacheElement)
	}

	e.key = string(line)
	e.val = lk
	kc.head = addToHead(kc.head, e)
	kc.kvMap[e.key] = e
}

func (kc *keyCache) len() int {
	return len(kc.kvMap)
}

func (kc *keyCache) delete(e *cacheElement) {
	kc.head = removeFromList(kc.head, e)
	delete(kc.kvMap, e.key)
	e.key = ""
	e.val = nil
	kc.pool = e
}

func removeFromList(head, e *cacheElement) *cacheElement {
	if e == head && head.next == head {
		head = nil
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	if e == head {
		head = e.next
	}
	return head
}

// addToHead adds n to the list with head and returns the new head
func addToHead(head *cacheElement, n *cacheElement) *cacheElement {
	if head == nil {
		n.prev = n
		n.next = n
		return n
	}
	n.next = head
	n.prev = head.prev
	head.prev = n
	n.prev.next = n
	return n
}
