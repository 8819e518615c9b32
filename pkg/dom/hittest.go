package dom

// Matcher 元素判定函数
type Matcher func(el Element) bool

// ByClass 按 class 匹配
func ByClass(class string) Matcher {
	return func(el Element) bool { return el.HasClass(class) }
}

// Closest 从 el 自身开始沿父链查找第一个满足 match 的元素。
// boundary 非空时查找到 boundary 为止（包含 boundary），未找到返回 nil。
func Closest(el Element, boundary Element, match Matcher) Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if match(cur) {
			return cur
		}
		if boundary != nil && cur == boundary {
			return nil
		}
	}
	return nil
}

// Contains 判断 el 是否为 ancestor 本身或其后代
func Contains(ancestor, el Element) bool {
	for cur := el; cur != nil; cur = cur.Parent() {
		if cur == ancestor {
			return true
		}
	}
	return false
}
